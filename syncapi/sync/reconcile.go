// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/syncclient/syncapi/types"
	"github.com/element-hq/syncclient/synctypes"
)

// Reconciler merges sync deltas into room snapshots. It is stateless per
// call: Apply consumes one delta against one snapshot set and returns a new
// set, never mutating its inputs. Callers must serialize Apply calls for an
// account; the session controller does this and also deduplicates batch
// tokens, which is deliberately not the reconciler's concern.
type Reconciler struct {
	// UserID is the local user, used to track membership transitions from
	// member events addressed to them.
	UserID string
}

// IntegrityWarning records a recoverable inconsistency in the server data,
// e.g. a room ID appearing in two partitions of one delta.
type IntegrityWarning struct {
	RoomID     string
	Reason     string
	Resolution types.Partition
}

// ApplyResult reports what one reconciliation pass did. Skipped counts and
// warnings surface partially-applied deltas to the caller instead of hiding
// them; nothing here is fatal.
type ApplyResult struct {
	// AppliedEvents are the timeline events appended to joined rooms, in
	// application order. These are the candidates for push rule
	// evaluation.
	AppliedEvents []synctypes.ClientEvent

	// TouchedRooms lists the rooms whose snapshots changed.
	TouchedRooms []string

	// SkippedEvents counts malformed entries that were dropped while the
	// rest of the batch continued.
	SkippedEvents int

	// Warnings are the recoverable integrity violations encountered.
	Warnings []IntegrityWarning
}

// Apply reconciles one delta against the previous snapshot set. The
// returned set shares unchanged snapshots with the previous one; touched
// snapshots are cloned before mutation.
//
// A room ID present in more than one partition is applied under its most
// terminal disposition (archived beats invited beats joined) and reported
// as an integrity warning.
func (r *Reconciler) Apply(prev types.SnapshotSet, delta *types.SyncResponse) (types.SnapshotSet, *ApplyResult) {
	next := prev.Clone()
	res := &ApplyResult{}
	if delta == nil {
		return next, res
	}

	dispositions := resolvePartitions(delta, res)

	// Archived rooms first: their disposition wins and later partitions
	// must not resurrect them within this delta.
	for roomID, roomSync := range delta.Rooms.Leave {
		if dispositions[roomID] != types.PartitionArchived {
			continue
		}
		snapshot := cloneOrCreate(next, roomID)
		r.applyRoomSync(roomID, snapshot, &roomSync, res, false)
		snapshot.Partition = types.PartitionArchived
		if m, ok := snapshot.Members[r.UserID]; ok && m.Membership == spec.Ban {
			snapshot.Membership = spec.Ban
		} else {
			snapshot.Membership = spec.Leave
		}
		res.TouchedRooms = append(res.TouchedRooms, roomID)
	}

	for roomID, invited := range delta.Rooms.Invite {
		if dispositions[roomID] != types.PartitionInvited {
			continue
		}
		snapshot := cloneOrCreate(next, roomID)
		// The stripped invite state is stored apart from any state the
		// client retains from an earlier membership: on a later join the
		// server sends the delta against the archived state, not against
		// this preview.
		for _, ev := range invited.InviteState.Events {
			if ev.Type == "" || ev.StateKey == nil {
				res.SkippedEvents++
				continue
			}
			if ev.RoomID == "" {
				ev.RoomID = roomID
			}
			tuple := types.StateKeyTuple{EventType: ev.Type, StateKey: *ev.StateKey}
			snapshot.InviteState[tuple] = ev
		}
		snapshot.Partition = types.PartitionInvited
		snapshot.Membership = spec.Invite
		res.TouchedRooms = append(res.TouchedRooms, roomID)
	}

	for roomID, roomSync := range delta.Rooms.Join {
		if dispositions[roomID] != types.PartitionJoined {
			continue
		}
		snapshot := cloneOrCreate(next, roomID)
		r.applyRoomSync(roomID, snapshot, &roomSync, res, true)
		snapshot.Partition = types.PartitionJoined
		snapshot.Membership = spec.Join
		res.TouchedRooms = append(res.TouchedRooms, roomID)
	}

	return next, res
}

// applyRoomSync merges one room's delta into its snapshot. State deltas are
// authoritative independent of timeline arrival order: each entry
// overwrites its (type, state_key) mapping outright.
//
// Events inside a room partition do not carry room_id on the wire (the room
// ID is the partition map key), so it is stamped here before the events are
// retained or handed to downstream consumers.
func (r *Reconciler) applyRoomSync(roomID string, snapshot *types.Snapshot, roomSync *types.RoomSync, res *ApplyResult, collectApplied bool) {
	for _, ev := range roomSync.State.Events {
		if ev.RoomID == "" {
			ev.RoomID = roomID
		}
		if !r.applyStateEvent(snapshot, ev) {
			res.SkippedEvents++
		}
	}

	hadTimeline := len(snapshot.Timeline) > 0
	for _, ev := range roomSync.Timeline.Events {
		if ev.Type == "" {
			res.SkippedEvents++
			continue
		}
		if ev.RoomID == "" {
			ev.RoomID = roomID
		}
		// State events delivered in the timeline also advance the current
		// state mapping.
		if ev.IsState() {
			r.applyStateEvent(snapshot, ev)
		}
		snapshot.Timeline = append(snapshot.Timeline, ev)
		if collectApplied {
			res.AppliedEvents = append(res.AppliedEvents, ev)
		}
	}

	// A limited timeline is not contiguous with what we already hold, so
	// the returned prev_batch becomes the backward-pagination cursor and
	// the gap is left for the caller to paginate into. The cursor is also
	// seeded on the first segment for a room.
	if roomSync.Timeline.PrevBatch != "" && (roomSync.Timeline.Limited || !hadTimeline) {
		snapshot.PrevBatch = roomSync.Timeline.PrevBatch
	}

	// Ephemeral state is not durable: the delivered set replaces the old
	// one. An absent ephemeral object leaves the previous set alone.
	if roomSync.Ephemeral.Events != nil {
		ephemeral := append([]synctypes.ClientEvent(nil), roomSync.Ephemeral.Events...)
		for i := range ephemeral {
			if ephemeral[i].RoomID == "" {
				ephemeral[i].RoomID = roomID
			}
		}
		snapshot.Ephemeral = ephemeral
	}
}

// applyStateEvent overwrites the state mapping entry for the event's
// (type, state_key) pair and keeps the member table in step. It reports
// false for malformed entries.
func (r *Reconciler) applyStateEvent(snapshot *types.Snapshot, ev synctypes.ClientEvent) bool {
	if ev.Type == "" || ev.StateKey == nil {
		return false
	}
	tuple := types.StateKeyTuple{EventType: ev.Type, StateKey: *ev.StateKey}
	snapshot.State[tuple] = ev

	if content, ok := synctypes.MemberContentFrom(&ev); ok {
		snapshot.Members[*ev.StateKey] = content
	}
	return true
}

// resolvePartitions determines the winning partition per room ID, applying
// the archived > invited > joined precedence when the delta mentions a room
// more than once. Violations are logged and reported, never fatal.
func resolvePartitions(delta *types.SyncResponse, res *ApplyResult) map[string]types.Partition {
	dispositions := make(map[string]types.Partition)
	for roomID := range delta.Rooms.Join {
		dispositions[roomID] = types.PartitionJoined
	}
	for roomID := range delta.Rooms.Invite {
		if _, clash := dispositions[roomID]; clash {
			warnPartitionClash(res, roomID, types.PartitionInvited)
		}
		dispositions[roomID] = types.PartitionInvited
	}
	for roomID := range delta.Rooms.Leave {
		if _, clash := dispositions[roomID]; clash {
			warnPartitionClash(res, roomID, types.PartitionArchived)
		}
		dispositions[roomID] = types.PartitionArchived
	}
	return dispositions
}

func warnPartitionClash(res *ApplyResult, roomID string, winner types.Partition) {
	logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"resolution": winner.String(),
	}).Warn("Room present in multiple sync partitions, most terminal disposition wins")
	res.Warnings = append(res.Warnings, IntegrityWarning{
		RoomID:     roomID,
		Reason:     "room present in multiple partitions",
		Resolution: winner,
	})
}

func cloneOrCreate(set types.SnapshotSet, roomID string) *types.Snapshot {
	if existing, ok := set[roomID]; ok {
		cloned := existing.Clone()
		set[roomID] = cloned
		return cloned
	}
	created := types.NewSnapshot(roomID)
	set[roomID] = created
	return created
}
