// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/element-hq/syncclient/pushrules"
	"github.com/element-hq/syncclient/setup/config"
	"github.com/element-hq/syncclient/syncapi/types"
	"github.com/element-hq/syncclient/synctypes"
)

type fakeStorage struct {
	snapshots  map[string]*types.Snapshot
	token      string
	tokenSaves int
	failSaves  bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{snapshots: make(map[string]*types.Snapshot)}
}

func (f *fakeStorage) SaveRoomSnapshot(_ context.Context, snapshot *types.Snapshot) error {
	if f.failSaves {
		return errors.New("disk full")
	}
	f.snapshots[snapshot.RoomID] = snapshot
	return nil
}

func (f *fakeStorage) SaveSyncToken(_ context.Context, token string) error {
	if f.failSaves {
		return errors.New("disk full")
	}
	f.token = token
	f.tokenSaves++
	return nil
}

func (f *fakeStorage) LoadState(_ context.Context) (types.SnapshotSet, string, error) {
	set := make(types.SnapshotSet, len(f.snapshots))
	for roomID, snapshot := range f.snapshots {
		set[roomID] = snapshot
	}
	return set, f.token, nil
}

type recordedNotification struct {
	event *synctypes.ClientEvent
	rule  *pushrules.Rule
}

type fakeNotifier struct {
	notifications []recordedNotification
}

func (f *fakeNotifier) OnActions(_ context.Context, event *synctypes.ClientEvent, rule *pushrules.Rule) {
	f.notifications = append(f.notifications, recordedNotification{event: event, rule: rule})
}

func testConfig() *config.Sync {
	cfg := &config.Sync{}
	cfg.Defaults()
	cfg.UserID = testUserID
	return cfg
}

func newTestSession(t *testing.T, storage Storage, notifier Notifier) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), testConfig(), storage, notifier)
	require.NoError(t, err)
	return s
}

func syncResponse(batch string, roomSync types.RoomSync) *types.SyncResponse {
	res := joinDelta("!r1:example.org", roomSync)
	res.NextBatch = batch
	return res
}

func TestSessionRejectsMissingNextBatch(t *testing.T) {
	s := newTestSession(t, newFakeStorage(), nil)
	_, err := s.ProcessResponse(context.Background(), &types.SyncResponse{})
	assert.Error(t, err)
}

func TestSessionIgnoresDuplicateBatch(t *testing.T) {
	storage := newFakeStorage()
	s := newTestSession(t, storage, nil)

	res := syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "hello"),
		}},
	})

	first, err := s.ProcessResponse(context.Background(), res)
	require.NoError(t, err)
	assert.Len(t, first.TouchedRooms, 1)

	second, err := s.ProcessResponse(context.Background(), res)
	require.NoError(t, err)
	assert.Empty(t, second.TouchedRooms)

	// The retried batch must not duplicate timeline events.
	assert.Len(t, s.Snapshot("!r1:example.org").Timeline, 1)
	assert.Equal(t, 1, storage.tokenSaves)
}

func TestSessionIgnoresReplayedOlderBatch(t *testing.T) {
	storage := newFakeStorage()
	s := newTestSession(t, storage, nil)

	first := syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "one"),
		}},
	})
	second := syncResponse("s2", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "two"),
		}},
	})

	_, err := s.ProcessResponse(context.Background(), first)
	require.NoError(t, err)
	_, err = s.ProcessResponse(context.Background(), second)
	require.NoError(t, err)

	// A delayed replay of the first batch arrives after a newer one has
	// been applied. It must be rejected, not re-applied.
	replayed, err := s.ProcessResponse(context.Background(), first)
	require.NoError(t, err)
	assert.Empty(t, replayed.TouchedRooms)

	assert.Equal(t, "s2", s.NextBatch())
	assert.Len(t, s.Snapshot("!r1:example.org").Timeline, 2)
	assert.Equal(t, 2, storage.tokenSaves)
}

func TestSessionPersistsState(t *testing.T) {
	storage := newFakeStorage()
	s := newTestSession(t, storage, nil)

	_, err := s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "hello"),
		}},
	}))
	require.NoError(t, err)

	assert.Equal(t, "s1", storage.token)
	require.Contains(t, storage.snapshots, "!r1:example.org")
	assert.Equal(t, types.PartitionJoined, storage.snapshots["!r1:example.org"].Partition)

	// A new session restores from the persisted state.
	restored := newTestSession(t, storage, nil)
	assert.Equal(t, "s1", restored.NextBatch())
	require.NotNil(t, restored.Snapshot("!r1:example.org"))
}

func TestSessionStorageErrorKeepsStateConsistent(t *testing.T) {
	storage := newFakeStorage()
	s := newTestSession(t, storage, nil)
	storage.failSaves = true

	_, err := s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "hello"),
		}},
	}))
	require.Error(t, err)

	// The in-memory session advanced; only persistence failed.
	assert.Equal(t, "s1", s.NextBatch())
	require.NotNil(t, s.Snapshot("!r1:example.org"))
}

func TestSessionTimelineTrim(t *testing.T) {
	cfg := testConfig()
	cfg.RetainTimelineEvents = 2
	s, err := NewSession(context.Background(), cfg, newFakeStorage(), nil)
	require.NoError(t, err)

	_, err = s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "one"),
			messageTimelineEvent("@bob:example.org", "two"),
			messageTimelineEvent("@bob:example.org", "three"),
		}},
	}))
	require.NoError(t, err)

	timeline := s.Snapshot("!r1:example.org").Timeline
	require.Len(t, timeline, 2)
	assert.Contains(t, string(timeline[0].Content), "two")
	assert.Contains(t, string(timeline[1].Content), "three")
}

func TestSessionNoTrimByDefault(t *testing.T) {
	s := newTestSession(t, newFakeStorage(), nil)

	_, err := s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "one"),
			messageTimelineEvent("@bob:example.org", "two"),
			messageTimelineEvent("@bob:example.org", "three"),
		}},
	}))
	require.NoError(t, err)

	assert.Len(t, s.Snapshot("!r1:example.org").Timeline, 3)
}

func TestSessionPresence(t *testing.T) {
	s := newTestSession(t, newFakeStorage(), nil)

	_, err := s.ProcessResponse(context.Background(), &types.SyncResponse{
		NextBatch: "s1",
		Presence: types.PresenceSyncResponse{Events: []synctypes.ClientEvent{
			{
				Type:    synctypes.MPresence,
				Sender:  "@bob:example.org",
				Content: []byte(`{"presence":"online","status_msg":"here"}`),
			},
			{
				Type:    synctypes.MPresence,
				Sender:  "@carol:example.org",
				Content: []byte(`{"presence":"org.example.lurking"}`),
			},
		}},
	})
	require.NoError(t, err)

	bob, ok := s.Presence("@bob:example.org")
	require.True(t, ok)
	assert.Equal(t, synctypes.PresenceOnline, bob.Status())
	assert.Equal(t, "here", bob.StatusMsg)

	// Unknown wire values survive as explicit unknowns instead of being
	// dropped or failing the batch.
	carol, ok := s.Presence("@carol:example.org")
	require.True(t, ok)
	assert.Equal(t, synctypes.PresenceUnknown, carol.Status())
}

func TestSessionPushEvaluation(t *testing.T) {
	notifier := &fakeNotifier{}
	s := newTestSession(t, newFakeStorage(), notifier)
	s.SetRuleSets(&pushrules.RuleSets{
		Global: pushrules.RuleSet{
			Content: []*pushrules.Rule{{
				RuleID:  "ping",
				Enabled: true,
				Pattern: "ping",
				Actions: []*pushrules.Action{{Kind: pushrules.NotifyAction}},
			}},
		},
	})

	_, err := s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "ping everyone"),
			messageTimelineEvent("@bob:example.org", "nothing to see"),
			messageTimelineEvent(testUserID, "ping from myself"),
		}},
	}))
	require.NoError(t, err)

	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, "ping", notifier.notifications[0].rule.RuleID)
	assert.Contains(t, string(notifier.notifications[0].event.Content), "ping everyone")
}

func TestSessionPushEvaluationRoomRule(t *testing.T) {
	notifier := &fakeNotifier{}
	s := newTestSession(t, newFakeStorage(), notifier)
	s.SetRuleSets(&pushrules.RuleSets{
		Global: pushrules.RuleSet{
			Room: []*pushrules.Rule{{
				RuleID:  "!r1:example.org",
				Enabled: true,
				Actions: []*pushrules.Action{{Kind: pushrules.DontNotifyAction}},
			}},
			Underride: []*pushrules.Rule{{
				RuleID:  ".m.rule.message",
				Enabled: true,
				Conditions: []*pushrules.Condition{
					{Kind: pushrules.EventMatchCondition, Key: "type", Pattern: "m.room.message"},
				},
				Actions: []*pushrules.Action{{Kind: pushrules.NotifyAction}},
			}},
		},
	})

	// Delta events carry no room_id on the wire; the muted room's rule
	// must still win over the catch-all underride.
	_, err := s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "hello"),
		}},
	}))
	require.NoError(t, err)

	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, "!r1:example.org", notifier.notifications[0].rule.RuleID)
}

func TestSessionPushEvaluationDeviceRules(t *testing.T) {
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.ProfileTag = "mobile"
	s, err := NewSession(context.Background(), cfg, newFakeStorage(), notifier)
	require.NoError(t, err)

	s.SetRuleSets(&pushrules.RuleSets{
		Global: pushrules.RuleSet{
			Content: []*pushrules.Rule{{
				RuleID:  ".global.ping",
				Enabled: true,
				Pattern: "ping",
				Actions: []*pushrules.Action{{Kind: pushrules.NotifyAction}},
			}},
		},
		Device: map[string]pushrules.RuleSet{
			"mobile": {
				Content: []*pushrules.Rule{{
					RuleID:  ".mobile.urgent",
					Enabled: true,
					Pattern: "urgent",
					Actions: []*pushrules.Action{{Kind: pushrules.NotifyAction}},
				}},
			},
		},
	})

	// The device rule set registered for the session's profile tag is
	// evaluated instead of the global one.
	_, err = s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "ping everyone"),
			messageTimelineEvent("@bob:example.org", "urgent: look"),
		}},
	}))
	require.NoError(t, err)

	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, ".mobile.urgent", notifier.notifications[0].rule.RuleID)
}

func TestSessionPushEvaluationWithoutRules(t *testing.T) {
	notifier := &fakeNotifier{}
	s := newTestSession(t, newFakeStorage(), notifier)

	_, err := s.ProcessResponse(context.Background(), syncResponse("s1", types.RoomSync{
		Timeline: types.TimelineSegment{Events: []synctypes.ClientEvent{
			messageTimelineEvent("@bob:example.org", "hello"),
		}},
	}))
	require.NoError(t, err)
	assert.Empty(t, notifier.notifications)
}

func TestSessionRoomsByPartition(t *testing.T) {
	s := newTestSession(t, newFakeStorage(), nil)

	_, err := s.ProcessResponse(context.Background(), &types.SyncResponse{
		NextBatch: "s1",
		Rooms: types.RoomsSyncResponse{
			Join: map[string]types.RoomSync{"!joined:example.org": {}},
			Invite: map[string]types.InvitedRoomSync{
				"!invited:example.org": {},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"!joined:example.org"}, s.Rooms(types.PartitionJoined))
	assert.Equal(t, []string{"!invited:example.org"}, s.Rooms(types.PartitionInvited))
	assert.Empty(t, s.Rooms(types.PartitionArchived))
}
