// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

// RuleSets is the full push rules payload as delivered by the server from
// the /pushRules/ endpoint.
type RuleSets struct {
	Global RuleSet `json:"global"`

	// Device holds per-profile-tag rule sets keyed by profile tag.
	Device map[string]RuleSet `json:"device,omitempty"`
}

// ForProfileTag returns the rule set to evaluate for a session and the
// scope it came from. A device rule set registered for the session's
// profile tag takes precedence over the global set.
func (r *RuleSets) ForProfileTag(profileTag string) (*RuleSet, Scope) {
	if profileTag != "" {
		if deviceSet, ok := r.Device[profileTag]; ok {
			return &deviceSet, DeviceScope
		}
	}
	return &r.Global, GlobalScope
}

// RuleSet is an ordered set of push rules for one scope. The fields are
// listed by descending priority: a rule in Override beats any rule in
// Content, and so on. Within a field the server-delivered array order is
// authoritative and is never re-sorted.
type RuleSet struct {
	Override  []*Rule `json:"override,omitempty"`
	Content   []*Rule `json:"content,omitempty"`
	Room      []*Rule `json:"room,omitempty"`
	Sender    []*Rule `json:"sender,omitempty"`
	Underride []*Rule `json:"underride,omitempty"`
}

// RulesByKind returns the rules of one kind, in delivered order.
func (r *RuleSet) RulesByKind(kind Kind) []*Rule {
	switch kind {
	case OverrideKind:
		return r.Override
	case ContentKind:
		return r.Content
	case RoomKind:
		return r.Room
	case SenderKind:
		return r.Sender
	case UnderrideKind:
		return r.Underride
	}
	return nil
}

// Rule is a single push rule.
type Rule struct {
	// RuleID is unique within its kind and scope. For room rules it is the
	// room ID the rule applies to, for sender rules the user ID.
	RuleID string `json:"rule_id"`

	// Default indicates a server-default rule, as opposed to one the user
	// configured.
	Default bool `json:"default"`

	// Enabled rules participate in evaluation; disabled rules are skipped.
	Enabled bool `json:"enabled"`

	// Pattern is the glob matched against the message body. Content rules
	// only.
	Pattern string `json:"pattern,omitempty"`

	// Conditions must all hold for the rule to match. Only override and
	// underride rules carry explicit conditions; an empty list matches
	// every event.
	Conditions []*Condition `json:"conditions,omitempty"`

	// Actions to take when the rule matches.
	Actions []*Action `json:"actions"`
}

// Kind is the category of a push rule, which determines its evaluation
// priority and its implicit conditions.
type Kind string

const (
	OverrideKind  Kind = "override"
	ContentKind   Kind = "content"
	RoomKind      Kind = "room"
	SenderKind    Kind = "sender"
	UnderrideKind Kind = "underride"
)

// kindsByPriority is the fixed evaluation order.
var kindsByPriority = []Kind{
	OverrideKind,
	ContentKind,
	RoomKind,
	SenderKind,
	UnderrideKind,
}

// Scope of a rule set: global rules, or device rules for a profile tag.
type Scope string

const (
	GlobalScope Scope = "global"
	DeviceScope Scope = "device"
)
