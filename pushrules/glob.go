// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"regexp"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// GlobCache compiles push rule glob patterns to regular expressions and
// memoizes the result. Rule sets repeat the same handful of patterns across
// every event evaluation, so compilation is the hot cost. The cache is safe
// for concurrent use and evaluation results do not depend on its contents.
type GlobCache struct {
	compiled *gocache.Cache
}

// NewGlobCache returns an empty glob cache.
func NewGlobCache() *GlobCache {
	return &GlobCache{
		compiled: gocache.New(gocache.NoExpiration, 0),
	}
}

// Compile returns the regular expression for a glob pattern. Word-scoped
// patterns match any substring delimited by word boundaries; otherwise the
// pattern must cover the whole value. Matching is case-insensitive either
// way.
func (g *GlobCache) Compile(pattern string, wordBoundary bool) (*regexp.Regexp, error) {
	key := pattern
	if wordBoundary {
		key = "w\x00" + pattern
	} else {
		key = "v\x00" + pattern
	}
	if re, ok := g.compiled.Get(key); ok {
		return re.(*regexp.Regexp), nil
	}

	expr := globToRegexp(pattern)
	if wordBoundary {
		expr = `(^|\W)` + expr + `(\W|$)`
	} else {
		expr = `^` + expr + `$`
	}
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return nil, err
	}
	g.compiled.SetDefault(key, re)
	return re, nil
}

// CompileLiteral returns a regular expression matching the value verbatim
// on word boundaries, case-insensitively. Unlike Compile, "*" and "?" in
// the value have no special meaning: this is for matching user-provided
// strings such as display names, which are not glob patterns.
func (g *GlobCache) CompileLiteral(value string) (*regexp.Regexp, error) {
	key := "l\x00" + value
	if re, ok := g.compiled.Get(key); ok {
		return re.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(`(?i)(^|\W)` + regexp.QuoteMeta(value) + `(\W|$)`)
	if err != nil {
		return nil, err
	}
	g.compiled.SetDefault(key, re)
	return re, nil
}

// globToRegexp translates a glob into a regular expression fragment: "*"
// matches any run of characters, "?" any single character, everything else
// literally.
func globToRegexp(pattern string) string {
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return sb.String()
}
