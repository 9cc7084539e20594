// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/syncclient/internal/util"
	"github.com/element-hq/syncclient/pushrules"
	"github.com/element-hq/syncclient/setup/config"
	"github.com/element-hq/syncclient/syncapi/types"
	"github.com/element-hq/syncclient/synctypes"
)

// Storage persists reconciled snapshots and the sync position so a session
// can resume after restart. Implementations treat the sync token as opaque.
type Storage interface {
	SaveRoomSnapshot(ctx context.Context, snapshot *types.Snapshot) error
	SaveSyncToken(ctx context.Context, token string) error
	LoadState(ctx context.Context) (types.SnapshotSet, string, error)
}

// Notifier receives the resolved push actions for events that matched an
// enabled rule. Events matching no rule produce no call.
type Notifier interface {
	OnActions(ctx context.Context, event *synctypes.ClientEvent, rule *pushrules.Rule)
}

// Session drives sync reconciliation and push evaluation for one account.
// All methods are safe for concurrent use; delta application is serialized
// so snapshots only ever advance one batch at a time.
type Session struct {
	cfg        *config.Sync
	storage    Storage
	notifier   Notifier
	reconciler *Reconciler
	rules      *pushrules.RuleSetStore
	globs      *pushrules.GlobCache

	mu        sync.Mutex
	snapshots types.SnapshotSet
	nextBatch string
	presence  map[string]synctypes.PresenceEventContent

	// Recently applied batch tokens, kept to reject delayed replays of
	// older responses, not just an immediate retry of the last one.
	seenBatches   map[string]struct{}
	recentBatches []string
}

// recentBatchLimit bounds how many applied batch tokens are remembered for
// replay rejection.
const recentBatchLimit = 64

// NewSession restores a session from storage. A fresh account starts with an
// empty snapshot set and no sync token.
func NewSession(ctx context.Context, cfg *config.Sync, storage Storage, notifier Notifier) (*Session, error) {
	snapshots, token, err := storage.LoadState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sync state")
	}
	if snapshots == nil {
		snapshots = make(types.SnapshotSet)
	}
	s := &Session{
		cfg:         cfg,
		storage:     storage,
		notifier:    notifier,
		reconciler:  &Reconciler{UserID: cfg.UserID},
		rules:       pushrules.NewRuleSetStore(),
		globs:       pushrules.NewGlobCache(),
		snapshots:   snapshots,
		nextBatch:   token,
		presence:    make(map[string]synctypes.PresenceEventContent),
		seenBatches: make(map[string]struct{}),
	}
	if token != "" {
		s.rememberBatch(token)
	}
	return s, nil
}

// NextBatch returns the token the next sync request should resume from.
func (s *Session) NextBatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextBatch
}

// Snapshot returns the current snapshot for a room, or nil if unknown.
// The returned snapshot must not be mutated.
func (s *Session) Snapshot(roomID string) *types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[roomID]
}

// Rooms returns the IDs of all rooms in the given partition.
func (s *Session) Rooms(partition types.Partition) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roomIDs []string
	for roomID, snapshot := range s.snapshots {
		if snapshot.Partition == partition {
			roomIDs = append(roomIDs, roomID)
		}
	}
	return roomIDs
}

// Presence returns the last known presence for a user, if any.
func (s *Session) Presence(userID string) (synctypes.PresenceEventContent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.presence[userID]
	return content, ok
}

// SetRuleSets replaces the push rule sets used for evaluation. Deltas being
// applied concurrently keep the set they started with.
func (s *Session) SetRuleSets(ruleSets *pushrules.RuleSets) {
	s.rules.Replace(ruleSets)
}

// ProcessResponse reconciles one sync response into the session. A response
// carrying a recently applied token is ignored: retried or delayed requests
// can deliver a batch twice, possibly with other batches in between, and
// applying it again would duplicate timeline events.
//
// The in-memory state always advances before persistence is attempted, so a
// storage error leaves the session consistent; the caller may retry
// persistence by syncing again from the returned state.
func (s *Session) ProcessResponse(ctx context.Context, res *types.SyncResponse) (*ApplyResult, error) {
	if res == nil || res.NextBatch == "" {
		return nil, errors.New("sync response missing next_batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.seenBatches[res.NextBatch]; seen {
		logrus.WithField("next_batch", res.NextBatch).Debug("Ignoring replayed sync batch")
		return &ApplyResult{}, nil
	}

	start := time.Now()
	next, applied := s.reconciler.Apply(s.snapshots, res)
	s.trimTimelines(next, applied.TouchedRooms)
	s.applyPresence(res)
	s.snapshots = next
	s.nextBatch = res.NextBatch
	s.rememberBatch(res.NextBatch)
	observeReconcile(time.Since(start), applied)
	logrus.WithFields(logrus.Fields{
		"next_batch": res.NextBatch,
		"rooms":      len(applied.TouchedRooms),
		"events":     len(applied.AppliedEvents),
		"skipped":    applied.SkippedEvents,
		"warnings":   len(applied.Warnings),
	}).Debug("Applied sync delta")

	s.evaluatePush(ctx, applied)

	if err := s.persist(ctx, applied.TouchedRooms); err != nil {
		return applied, err
	}
	return applied, nil
}

// rememberBatch records an applied token in the replay-rejection window,
// evicting the oldest entry once the window is full. Callers hold s.mu.
func (s *Session) rememberBatch(token string) {
	s.seenBatches[token] = struct{}{}
	s.recentBatches = append(s.recentBatches, token)
	if len(s.recentBatches) > recentBatchLimit {
		delete(s.seenBatches, s.recentBatches[0])
		s.recentBatches = s.recentBatches[1:]
	}
}

func (s *Session) persist(ctx context.Context, touched []string) error {
	for _, roomID := range touched {
		if err := s.storage.SaveRoomSnapshot(ctx, s.snapshots[roomID]); err != nil {
			return errors.Wrapf(err, "failed to save snapshot for room %s", roomID)
		}
	}
	if err := s.storage.SaveSyncToken(ctx, s.nextBatch); err != nil {
		return errors.Wrap(err, "failed to save sync token")
	}
	return nil
}

func (s *Session) trimTimelines(set types.SnapshotSet, touched []string) {
	limit := s.cfg.RetainTimelineEvents
	if limit <= 0 {
		return
	}
	for _, roomID := range touched {
		snapshot := set[roomID]
		if snapshot == nil || len(snapshot.Timeline) <= limit {
			continue
		}
		snapshot.Timeline = append(
			[]synctypes.ClientEvent(nil),
			snapshot.Timeline[len(snapshot.Timeline)-limit:]...,
		)
	}
}

func (s *Session) applyPresence(res *types.SyncResponse) {
	for _, ev := range res.Presence.Events {
		if ev.Type != synctypes.MPresence || ev.Sender == "" {
			continue
		}
		var content synctypes.PresenceEventContent
		if err := content.FromRaw(ev.Content); err != nil {
			logrus.WithError(err).WithField("sender", ev.Sender).Debug("Dropping malformed presence event")
			continue
		}
		content.UserID = ev.Sender
		s.presence[ev.Sender] = content
	}
}

// evaluatePush runs every applied timeline event through the push rule
// engine and forwards matches to the notifier. Events the local user sent
// are skipped.
func (s *Session) evaluatePush(ctx context.Context, applied *ApplyResult) {
	if s.notifier == nil {
		return
	}
	ruleSets := s.rules.View()
	if ruleSets == nil {
		return
	}

	ruleSet, _ := ruleSets.ForProfileTag(s.cfg.ProfileTag)

	evaluators := make(map[string]*pushrules.RuleSetEvaluator)
	for i := range applied.AppliedEvents {
		ev := &applied.AppliedEvents[i]
		if ev.Sender == s.cfg.UserID {
			continue
		}
		eval, ok := evaluators[ev.RoomID]
		if !ok {
			eval = pushrules.NewRuleSetEvaluator(s.roomContext(ev.RoomID), ruleSet, s.globs)
			evaluators[ev.RoomID] = eval
		}
		rule, kind := eval.MatchEventWithKind(ev)
		if rule == nil {
			continue
		}
		ruleMatchesCounter.WithLabelValues(string(kind)).Inc()
		s.notifier.OnActions(ctx, ev, rule)
	}
}

func (s *Session) roomContext(roomID string) pushrules.RoomContext {
	displayName := s.cfg.DisplayName
	if displayName == "" {
		displayName = util.UserLocalpart(s.cfg.UserID)
	}
	roomCtx := pushrules.RoomContext{
		RoomID:      roomID,
		DisplayName: displayName,
		ProfileTag:  s.cfg.ProfileTag,
	}
	if snapshot := s.snapshots[roomID]; snapshot != nil {
		roomCtx.MemberCount = snapshot.JoinedMemberCount()
		if name := snapshot.MemberDisplayName(s.cfg.UserID); name != "" {
			roomCtx.DisplayName = name
		}
	}
	return roomCtx
}
