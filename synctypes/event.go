// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

import (
	"encoding/json"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/tidwall/gjson"
)

// Event type constants handled by the reconciliation core.
const (
	MRoomMember     = "m.room.member"
	MRoomMessage    = "m.room.message"
	MPresence       = "m.presence"
	MTag            = "m.tag"
	MTyping         = "m.typing"
	MReceipt        = "m.receipt"
	MCallInvite     = "m.call.invite"
	MCallAnswer     = "m.call.answer"
	MCallHangup     = "m.call.hangup"
	MCallCandidates = "m.call.candidates"
)

// ClientEvent is a single event as delivered inside a sync response. The
// content is kept as raw JSON: the reconciler treats it opaquely and typed
// accessors decode it on demand.
type ClientEvent struct {
	Content        json.RawMessage `json:"content,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	OriginServerTS spec.Timestamp  `json:"origin_server_ts,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	Sender         string          `json:"sender,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	Type           string          `json:"type"`
	Unsigned       json.RawMessage `json:"unsigned,omitempty"`
}

// IsState reports whether the event carries a state key, i.e. whether it
// replaces the current value for its (type, state_key) pair.
func (e *ClientEvent) IsState() bool {
	return e.StateKey != nil
}

// ContentValue returns the value at a dotted JSON path within the event
// content, e.g. "body" or "info.mimetype". The result is unset if the path
// does not exist.
func (e *ClientEvent) ContentValue(path string) gjson.Result {
	return gjson.GetBytes(e.Content, path)
}

// FieldValue resolves a dotted event-match path against the event. Paths
// beginning with "content." descend into the content JSON; the remaining
// top-level keys resolve to the envelope fields. Unknown paths return an
// unset result.
func (e *ClientEvent) FieldValue(path string) gjson.Result {
	const contentPrefix = "content."
	if len(path) > len(contentPrefix) && path[:len(contentPrefix)] == contentPrefix {
		return e.ContentValue(path[len(contentPrefix):])
	}
	switch path {
	case "type":
		return stringResult(e.Type)
	case "sender":
		return stringResult(e.Sender)
	case "room_id":
		return stringResult(e.RoomID)
	case "state_key":
		if e.StateKey == nil {
			return gjson.Result{}
		}
		return stringResult(*e.StateKey)
	case "content":
		return gjson.ParseBytes(e.Content)
	}
	return gjson.Result{}
}

func stringResult(s string) gjson.Result {
	if s == "" {
		return gjson.Result{}
	}
	return gjson.Result{Type: gjson.String, Str: s}
}

// MemberContent is the content of an m.room.member event.
type MemberContent struct {
	Membership  string `json:"membership"`
	Displayname string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// MemberContentFrom decodes the membership content of an event. It returns
// false if the event is not a member event or the content is malformed.
func MemberContentFrom(ev *ClientEvent) (MemberContent, bool) {
	if ev.Type != MRoomMember {
		return MemberContent{}, false
	}
	var content MemberContent
	if err := json.Unmarshal(ev.Content, &content); err != nil {
		return MemberContent{}, false
	}
	if content.Membership == "" {
		return MemberContent{}, false
	}
	return content, true
}
