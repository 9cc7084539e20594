// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobCompile(t *testing.T) {
	tests := []struct {
		name         string
		pattern      string
		wordBoundary bool
		value        string
		matches      bool
	}{
		{name: "plain word in body", pattern: "hello", wordBoundary: true, value: "well hello there", matches: true},
		{name: "word not delimited", pattern: "ello", wordBoundary: true, value: "hello there", matches: false},
		{name: "word at start", pattern: "hello", wordBoundary: true, value: "hello there", matches: true},
		{name: "word at end", pattern: "there", wordBoundary: true, value: "hello there", matches: true},
		{name: "case insensitive", pattern: "HELLO", wordBoundary: true, value: "oh hello", matches: true},
		{name: "star spans words", pattern: "he*o", wordBoundary: true, value: "hexxxo world", matches: true},
		{name: "question mark single char", pattern: "t?ere", wordBoundary: true, value: "there", matches: true},
		{name: "whole value match", pattern: "m.room.*", wordBoundary: false, value: "m.room.message", matches: true},
		{name: "whole value must cover", pattern: "m.room", wordBoundary: false, value: "m.room.message", matches: false},
		{name: "regexp metacharacters are literal", pattern: "a+b", wordBoundary: false, value: "a+b", matches: true},
		{name: "regexp metacharacters do not repeat", pattern: "a+b", wordBoundary: false, value: "aab", matches: false},
	}

	cache := NewGlobCache()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := cache.Compile(tt.pattern, tt.wordBoundary)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, re.MatchString(tt.value))
		})
	}
}

func TestCompileLiteral(t *testing.T) {
	tests := []struct {
		name    string
		literal string
		value   string
		matches bool
	}{
		{name: "word in body", literal: "alice", value: "hey alice!", matches: true},
		{name: "case insensitive", literal: "Alice", value: "ALICE: ping", matches: true},
		{name: "not delimited", literal: "alice", value: "malice", matches: false},
		{name: "star is literal", literal: "al*ce", value: "hey al*ce", matches: true},
		{name: "star does not wildcard", literal: "al*ce", value: "hey alice", matches: false},
		{name: "question mark is literal", literal: "who?", value: "asked who? twice", matches: true},
		{name: "question mark does not wildcard", literal: "who?", value: "whoa there", matches: false},
	}

	cache := NewGlobCache()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := cache.CompileLiteral(tt.literal)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, re.MatchString(tt.value))
		})
	}
}

func TestGlobCacheReuse(t *testing.T) {
	cache := NewGlobCache()
	first, err := cache.Compile("hello*", true)
	require.NoError(t, err)
	second, err := cache.Compile("hello*", true)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// The word-scoped and whole-value compilations are distinct entries.
	whole, err := cache.Compile("hello*", false)
	require.NoError(t, err)
	assert.NotSame(t, first, whole)
}
