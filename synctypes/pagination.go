// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

// PaginationChunk is the response shape of an endpoint that paginates over
// an event stream. Start and End are opaque cursors for resuming traversal
// in either direction.
type PaginationChunk struct {
	Chunk []ClientEvent `json:"chunk"`
	Start string        `json:"start,omitempty"`
	End   string        `json:"end,omitempty"`
}

// PublicRoom is a single entry of the public room directory.
type PublicRoom struct {
	RoomID           string   `json:"room_id"`
	Name             string   `json:"name,omitempty"`
	Aliases          []string `json:"aliases,omitempty"`
	Topic            string   `json:"topic,omitempty"`
	NumJoinedMembers int      `json:"num_joined_members"`
	WorldReadable    bool     `json:"world_readable"`
	GuestCanJoin     bool     `json:"guest_can_join"`
	AvatarURL        string   `json:"avatar_url,omitempty"`
}
