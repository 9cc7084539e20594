// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package types

import (
	"github.com/element-hq/syncclient/synctypes"
)

// SyncResponse is one incremental sync payload from the server, already
// JSON-decoded by the transport layer. NextBatch is the cursor to resume
// from after this delta has been applied.
type SyncResponse struct {
	NextBatch string               `json:"next_batch"`
	Presence  PresenceSyncResponse `json:"presence"`
	Rooms     RoomsSyncResponse    `json:"rooms"`
}

// IsEmpty reports whether the delta carries no updates at all. Applying an
// empty delta to a snapshot set leaves it unchanged.
func (r *SyncResponse) IsEmpty() bool {
	return len(r.Presence.Events) == 0 &&
		len(r.Rooms.Join) == 0 &&
		len(r.Rooms.Invite) == 0 &&
		len(r.Rooms.Leave) == 0
}

// PresenceSyncResponse carries the presence updates of other users.
type PresenceSyncResponse struct {
	Events []synctypes.ClientEvent `json:"events"`
}

// RoomsSyncResponse partitions the changed rooms by the local user's
// membership. A well-formed delta mentions a room in at most one partition.
type RoomsSyncResponse struct {
	Join   map[string]RoomSync        `json:"join"`
	Invite map[string]InvitedRoomSync `json:"invite"`
	Leave  map[string]RoomSync        `json:"leave"`
}

// RoomSync is the update for one joined or archived room.
type RoomSync struct {
	State     EventList       `json:"state"`
	Timeline  TimelineSegment `json:"timeline"`
	Ephemeral EventList       `json:"ephemeral"`
}

// InvitedRoomSync is the update for a room the user has been invited to.
// The invite state is a stripped preview and must never overwrite state the
// client already holds for the room.
type InvitedRoomSync struct {
	InviteState EventList `json:"invite_state"`
}

// EventList wraps an event array sub-object.
type EventList struct {
	Events []synctypes.ClientEvent `json:"events"`
}

// TimelineSegment is an ordered run of timeline events. When Limited is set
// the segment is not contiguous with what the client already has and
// PrevBatch is the cursor for paginating backwards into the gap.
type TimelineSegment struct {
	Events    []synctypes.ClientEvent `json:"events"`
	Limited   bool                    `json:"limited,omitempty"`
	PrevBatch string                  `json:"prev_batch,omitempty"`
}
