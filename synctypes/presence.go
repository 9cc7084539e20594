// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

import "encoding/json"

// Presence is the enumerated form of the wire presence string. Servers may
// introduce values this client does not know about; those decode to
// PresenceUnknown rather than failing.
type Presence uint8

const (
	PresenceUnknown Presence = iota
	PresenceOnline
	PresenceUnavailable
	PresenceOffline
	PresenceFreeForChat
	PresenceHidden
)

// Wire presence strings.
const (
	presenceOnline      = "online"
	presenceUnavailable = "unavailable"
	presenceOffline     = "offline"
	presenceFreeForChat = "free_for_chat"
	presenceHidden      = "hidden"
)

// PresenceFromString maps a wire presence string to its enumerated form.
// Unrecognised values map to PresenceUnknown.
func PresenceFromString(s string) Presence {
	switch s {
	case presenceOnline:
		return PresenceOnline
	case presenceUnavailable:
		return PresenceUnavailable
	case presenceOffline:
		return PresenceOffline
	case presenceFreeForChat:
		return PresenceFreeForChat
	case presenceHidden:
		return PresenceHidden
	}
	return PresenceUnknown
}

// String returns the wire form of the presence value, or the empty string
// for PresenceUnknown, which has no wire representation.
func (p Presence) String() string {
	switch p {
	case PresenceOnline:
		return presenceOnline
	case PresenceUnavailable:
		return presenceUnavailable
	case PresenceOffline:
		return presenceOffline
	case PresenceFreeForChat:
		return presenceFreeForChat
	case PresenceHidden:
		return presenceHidden
	}
	return ""
}

// PresenceEventContent is the content of an m.presence event.
type PresenceEventContent struct {
	UserID        string `json:"user_id,omitempty"`
	Displayname   string `json:"displayname,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	LastActiveAgo int64  `json:"last_active_ago,omitempty"`
	Presence      string `json:"presence"`
	StatusMsg     string `json:"status_msg,omitempty"`
}

// FromRaw decodes the content of an m.presence event.
func (c *PresenceEventContent) FromRaw(content json.RawMessage) error {
	return json.Unmarshal(content, c)
}

// Status returns the enumerated presence status for the content.
func (c *PresenceEventContent) Status() Presence {
	return PresenceFromString(c.Presence)
}
