// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package config

type Sync struct {
	// The fully-qualified user ID this session syncs for,
	// e.g. "@alice:example.com".
	UserID string `yaml:"user_id"`

	// Display name used for contains_display_name push conditions. When
	// empty, the localpart of UserID is used.
	DisplayName string `yaml:"display_name"`

	// Optional profile tag reported to profile_tag push conditions.
	ProfileTag string `yaml:"profile_tag"`

	// How many timeline events to keep in memory per room, or 0 to keep
	// them all. Trimming discards the oldest events outright: the
	// backward-pagination cursor still points before the first segment the
	// server ever delivered, so trimmed events cannot be fetched back and
	// the hole between the cursor and the retained tail is invisible to
	// readers. Only set this if losing old timeline events is acceptable.
	RetainTimelineEvents int `yaml:"retain_timeline_events"`
}

func (c *Sync) Defaults() {
	c.RetainTimelineEvents = 0
}

func (c *Sync) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "sync.user_id", c.UserID)
	if c.UserID != "" {
		checkUserID(configErrs, "sync.user_id", c.UserID)
	}
	checkPositive(configErrs, "sync.retain_timeline_events", int64(c.RetainTimelineEvents))
}
