package util

import "strings"

// NormalizeLocalpart trims whitespace and lowercases a user localpart for consistent storage and lookup.
func NormalizeLocalpart(localpart string) string {
	return strings.ToLower(strings.TrimSpace(localpart))
}

// UserLocalpart extracts the localpart from a fully-qualified user ID of the
// @localpart:domain form. IDs not in that form are returned unchanged.
func UserLocalpart(userID string) string {
	if !strings.HasPrefix(userID, "@") {
		return userID
	}
	colon := strings.IndexByte(userID, ':')
	if colon < 0 {
		return userID
	}
	return userID[1:colon]
}
