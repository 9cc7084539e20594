// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"strconv"
	"strings"

	"github.com/element-hq/syncclient/synctypes"
)

// RoomContext is the per-room view the evaluator needs beyond the event
// itself. It is read-only during evaluation.
type RoomContext struct {
	// RoomID the event belongs to.
	RoomID string
	// MemberCount is the number of joined members.
	MemberCount int
	// DisplayName is the viewing user's display name in the room.
	DisplayName string
	// ProfileTag configured for this session, if any.
	ProfileTag string
}

// RuleSetEvaluator matches events against an ordered rule set. It is pure:
// evaluation reads only the rule set, the room context and the event, so a
// single evaluator may be shared across goroutines as long as the rule set
// it was built from is not mutated.
type RuleSetEvaluator struct {
	roomCtx RoomContext
	ruleSet *RuleSet
	globs   *GlobCache
}

// NewRuleSetEvaluator builds an evaluator over a rule set. The glob cache
// may be shared between evaluators; pass nil to use a private one.
func NewRuleSetEvaluator(roomCtx RoomContext, ruleSet *RuleSet, globs *GlobCache) *RuleSetEvaluator {
	if globs == nil {
		globs = NewGlobCache()
	}
	return &RuleSetEvaluator{
		roomCtx: roomCtx,
		ruleSet: ruleSet,
		globs:   globs,
	}
}

// MatchEvent returns the first enabled rule that matches the event, walking
// kinds in fixed priority order (override, content, room, sender,
// underride) and rules within a kind in delivered order. Evaluation stops
// at the first match. A nil return means no rule matched and the caller's
// default policy applies.
func (rse *RuleSetEvaluator) MatchEvent(event *synctypes.ClientEvent) *Rule {
	rule, _ := rse.MatchEventWithKind(event)
	return rule
}

// MatchEventWithKind is MatchEvent but also reports the kind of the matched
// rule, which is not recoverable from the rule alone.
func (rse *RuleSetEvaluator) MatchEventWithKind(event *synctypes.ClientEvent) (*Rule, Kind) {
	if rse.ruleSet == nil {
		return nil, ""
	}
	for _, kind := range kindsByPriority {
		for _, rule := range rse.ruleSet.RulesByKind(kind) {
			if rule == nil || !rule.Enabled {
				continue
			}
			if rse.ruleMatches(kind, rule, event) {
				return rule, kind
			}
		}
	}
	return nil, ""
}

// ruleMatches applies the kind-implicit condition and then the explicit
// condition list. All must hold.
func (rse *RuleSetEvaluator) ruleMatches(kind Kind, rule *Rule, event *synctypes.ClientEvent) bool {
	switch kind {
	case ContentKind:
		if !rse.patternMatches("content.body", rule.Pattern, event) {
			return false
		}
	case RoomKind:
		if rule.RuleID != event.RoomID && rule.RuleID != rse.roomCtx.RoomID {
			return false
		}
	case SenderKind:
		if rule.RuleID != event.Sender {
			return false
		}
	}
	for _, cond := range rule.Conditions {
		if cond == nil || !rse.conditionMatches(cond, event) {
			return false
		}
	}
	return true
}

func (rse *RuleSetEvaluator) conditionMatches(cond *Condition, event *synctypes.ClientEvent) bool {
	switch cond.Kind {
	case EventMatchCondition:
		if cond.Key == "" {
			return false
		}
		return rse.patternMatches(cond.Key, cond.Pattern, event)

	case ContainsDisplayNameCondition:
		if rse.roomCtx.DisplayName == "" {
			return false
		}
		// The display name is user-provided text, not a glob: "*" or "?"
		// in it must match literally.
		value := event.FieldValue("content.body")
		if !value.Exists() {
			return false
		}
		re, err := rse.globs.CompileLiteral(rse.roomCtx.DisplayName)
		if err != nil {
			return false
		}
		return re.MatchString(value.String())

	case RoomMemberCountCondition:
		cmp, ok := parseRoomMemberCountCondition(cond.Is)
		if !ok {
			// Fails closed on a malformed expression.
			return false
		}
		return cmp(rse.roomCtx.MemberCount)

	case ProfileTagCondition:
		return cond.ProfileTag != "" && cond.ProfileTag == rse.roomCtx.ProfileTag

	default:
		// Unknown condition kinds fail closed so that a future condition
		// type suppresses the rule rather than notifying incorrectly.
		return false
	}
}

// patternMatches glob-matches the value at a dotted event path. The message
// body matches on word boundaries; every other field must match in full.
func (rse *RuleSetEvaluator) patternMatches(key, pattern string, event *synctypes.ClientEvent) bool {
	if pattern == "" {
		return false
	}
	value := event.FieldValue(key)
	if !value.Exists() {
		return false
	}
	re, err := rse.globs.Compile(pattern, key == "content.body")
	if err != nil {
		return false
	}
	return re.MatchString(value.String())
}

// parseRoomMemberCountCondition turns a member count expression like "==2",
// "<10" or "5" into a predicate. It returns false when the expression does
// not parse.
func parseRoomMemberCountCondition(is string) (func(int) bool, bool) {
	op := "=="
	rest := is
	for _, prefix := range []string{"==", "<=", ">=", "<", ">"} {
		if strings.HasPrefix(is, prefix) {
			op = prefix
			rest = is[len(prefix):]
			break
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return nil, false
	}
	switch op {
	case "==":
		return func(count int) bool { return count == n }, true
	case "<":
		return func(count int) bool { return count < n }, true
	case ">":
		return func(count int) bool { return count > n }, true
	case "<=":
		return func(count int) bool { return count <= n }, true
	case ">=":
		return func(count int) bool { return count >= n }, true
	}
	return nil, false
}
