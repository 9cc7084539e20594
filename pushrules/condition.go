// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

// ConditionKind is the type of a rule condition. Like action kinds this is
// an open string enum: a kind outside the enumerated set is retained as-is
// and evaluates to non-matching, so an unrecognised future condition type
// suppresses its rule instead of notifying incorrectly.
type ConditionKind string

const (
	// EventMatchCondition glob-matches a dotted JSON path in the event
	// against a pattern.
	EventMatchCondition ConditionKind = "event_match"
	// ProfileTagCondition matches the profile tag configured for the
	// session.
	ProfileTagCondition ConditionKind = "profile_tag"
	// ContainsDisplayNameCondition matches when the message body contains
	// the viewing user's display name as a delimited word.
	ContainsDisplayNameCondition ConditionKind = "contains_display_name"
	// RoomMemberCountCondition compares the room's joined member count
	// against the condition's "is" expression.
	RoomMemberCountCondition ConditionKind = "room_member_count"
)

// Condition is one entry of a rule's condition list. Which parameter fields
// are set depends on the kind.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Key is the dotted event path for event_match, e.g. "content.body".
	Key string `json:"key,omitempty"`

	// Pattern is the glob for event_match.
	Pattern string `json:"pattern,omitempty"`

	// Is is the member count expression for room_member_count: an optional
	// comparison operator prefix (==, <, >, <=, >=) followed by an
	// integer. No prefix means equality.
	Is string `json:"is,omitempty"`

	// ProfileTag is the tag to compare for profile_tag.
	ProfileTag string `json:"profile_tag,omitempty"`
}
