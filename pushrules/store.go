// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import "sync"

// RuleSetStore holds the current rule sets behind a reader-writer lock so
// that concurrent evaluations always see a complete rule list and never a
// half-applied update. Replace swaps the whole value; the stored RuleSets
// must not be mutated after being handed to the store.
type RuleSetStore struct {
	mu       sync.RWMutex
	rulesets *RuleSets
}

// NewRuleSetStore returns a store with no rules; View returns nil until the
// first Replace.
func NewRuleSetStore() *RuleSetStore {
	return &RuleSetStore{}
}

// Replace installs a new rule sets value, e.g. after the server pushed a
// rule update.
func (s *RuleSetStore) Replace(rulesets *RuleSets) {
	s.mu.Lock()
	s.rulesets = rulesets
	s.mu.Unlock()
}

// View returns a snapshot-consistent pointer to the current rule sets. The
// returned value is immutable by convention; callers must not modify it.
func (s *RuleSetStore) View() *RuleSets {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rulesets
}
