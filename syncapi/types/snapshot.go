// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package types

import (
	"github.com/matrix-org/gomatrixserverlib/spec"

	"github.com/element-hq/syncclient/synctypes"
)

// Partition is the disposition of a room for the local user. A room is in
// exactly one partition at a time; the tag on the snapshot enforces that
// structurally where the wire format merely asserts it.
type Partition uint8

const (
	// PartitionJoined rooms have a live timeline and full state.
	PartitionJoined Partition = iota
	// PartitionInvited rooms only carry a stripped invite-state preview,
	// possibly alongside state retained from an earlier membership.
	PartitionInvited
	// PartitionArchived rooms were left or the user was banned; the last
	// known state is retained for historical display.
	PartitionArchived
)

func (p Partition) String() string {
	switch p {
	case PartitionJoined:
		return "joined"
	case PartitionInvited:
		return "invited"
	case PartitionArchived:
		return "archived"
	}
	return "unknown"
}

// StateKeyTuple identifies a piece of room state: the latest event per
// tuple is the current state value.
type StateKeyTuple struct {
	EventType string
	StateKey  string
}

// Snapshot is the durable local view of one room, created on first sight of
// the room ID and mutated only by the reconciler.
type Snapshot struct {
	// RoomID of the room.
	RoomID string

	// Partition the room currently occupies.
	Partition Partition

	// Membership of the local user (join, invite, leave, ban).
	Membership string

	// Timeline events in arrival order. Append-only per reconciliation.
	Timeline []synctypes.ClientEvent

	// State maps each (type, state_key) tuple to the latest state event
	// seen for it. It never regresses to an older event.
	State map[StateKeyTuple]synctypes.ClientEvent

	// InviteState holds the stripped preview delivered with an invite. It
	// is kept apart from State so that joining later computes its delta
	// against the archived state, not the preview.
	InviteState map[StateKeyTuple]synctypes.ClientEvent

	// Members tracks membership content per user ID, derived from
	// m.room.member state. Used for the joined member count and the local
	// user's display name.
	Members map[string]synctypes.MemberContent

	// Ephemeral is the transient per-room state (typing, receipts). It is
	// replaced wholesale on every delta and is not persisted.
	Ephemeral []synctypes.ClientEvent

	// PrevBatch is the cursor for paginating backwards from the oldest
	// timeline event the client holds.
	PrevBatch string
}

// NewSnapshot returns an empty snapshot for a room.
func NewSnapshot(roomID string) *Snapshot {
	return &Snapshot{
		RoomID:      roomID,
		State:       map[StateKeyTuple]synctypes.ClientEvent{},
		InviteState: map[StateKeyTuple]synctypes.ClientEvent{},
		Members:     map[string]synctypes.MemberContent{},
	}
}

// Clone returns a deep copy. The reconciler clones before mutating so a
// previous snapshot set handed in by the caller is never modified.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		RoomID:      s.RoomID,
		Partition:   s.Partition,
		Membership:  s.Membership,
		Timeline:    make([]synctypes.ClientEvent, len(s.Timeline)),
		State:       make(map[StateKeyTuple]synctypes.ClientEvent, len(s.State)),
		InviteState: make(map[StateKeyTuple]synctypes.ClientEvent, len(s.InviteState)),
		Members:     make(map[string]synctypes.MemberContent, len(s.Members)),
		Ephemeral:   make([]synctypes.ClientEvent, len(s.Ephemeral)),
		PrevBatch:   s.PrevBatch,
	}
	copy(c.Timeline, s.Timeline)
	copy(c.Ephemeral, s.Ephemeral)
	for k, v := range s.State {
		c.State[k] = v
	}
	for k, v := range s.InviteState {
		c.InviteState[k] = v
	}
	for k, v := range s.Members {
		c.Members[k] = v
	}
	return c
}

// CurrentState returns the latest state event for a (type, state_key) pair,
// or nil when none is known.
func (s *Snapshot) CurrentState(eventType, stateKey string) *synctypes.ClientEvent {
	ev, ok := s.State[StateKeyTuple{EventType: eventType, StateKey: stateKey}]
	if !ok {
		return nil
	}
	return &ev
}

// JoinedMemberCount returns the number of members currently joined to the
// room according to the tracked membership state.
func (s *Snapshot) JoinedMemberCount() int {
	count := 0
	for _, m := range s.Members {
		if m.Membership == spec.Join {
			count++
		}
	}
	return count
}

// MemberDisplayName returns the display name of a member in this room,
// falling back to the empty string when unknown.
func (s *Snapshot) MemberDisplayName(userID string) string {
	return s.Members[userID].Displayname
}

// ApplyBackfill merges a backwards pagination chunk into the snapshot. The
// chunk is in reverse-chronological order as returned by the server, so the
// events are prepended in reverse. State is only filled for tuples with no
// known value: an older state event never overwrites a newer one. The
// backward cursor advances to the chunk's end token.
func (s *Snapshot) ApplyBackfill(chunk *synctypes.PaginationChunk) {
	if chunk == nil || len(chunk.Chunk) == 0 {
		if chunk != nil && chunk.End != "" {
			s.PrevBatch = chunk.End
		}
		return
	}
	older := make([]synctypes.ClientEvent, 0, len(chunk.Chunk))
	for i := len(chunk.Chunk) - 1; i >= 0; i-- {
		older = append(older, chunk.Chunk[i])
	}
	s.Timeline = append(older, s.Timeline...)

	for _, ev := range chunk.Chunk {
		if ev.StateKey == nil {
			continue
		}
		tuple := StateKeyTuple{EventType: ev.Type, StateKey: *ev.StateKey}
		if _, known := s.State[tuple]; !known {
			s.State[tuple] = ev
		}
	}
	if chunk.End != "" {
		s.PrevBatch = chunk.End
	}
}

// SnapshotSet maps room IDs to their snapshots.
type SnapshotSet map[string]*Snapshot

// Clone shallow-copies the set; individual snapshots are cloned lazily by
// the reconciler as it touches them.
func (set SnapshotSet) Clone() SnapshotSet {
	c := make(SnapshotSet, len(set))
	for roomID, snapshot := range set {
		c[roomID] = snapshot
	}
	return c
}
