// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Reserved room tag names.
const (
	TagFavourite   = "m.favourite"
	TagLowPriority = "m.lowpriority"
)

// RoomTag is a single tag the user attached to a room. Order is the raw
// ordering key as delivered by the server; ParsedOrder is its numeric
// interpretation, computed once at construction and nil when the key does
// not parse as a number.
type RoomTag struct {
	Name        string
	Order       string
	ParsedOrder *float64
}

// NewRoomTag builds a tag, deriving the parsed numeric order eagerly.
func NewRoomTag(name, order string) RoomTag {
	tag := RoomTag{Name: name, Order: order}
	if order != "" {
		if f, err := strconv.ParseFloat(order, 64); err == nil {
			tag.ParsedOrder = &f
		}
	}
	return tag
}

// TagsFromEvent extracts the tag map from an m.tag account data event. One
// event can carry several tags; the returned map is keyed by tag name.
// Order keys are preserved in their raw wire form whether the server sent a
// string or a bare number. A non-tag event yields an empty map.
func TagsFromEvent(ev *ClientEvent) map[string]RoomTag {
	tags := make(map[string]RoomTag)
	if ev.Type != MTag {
		return tags
	}
	gjson.GetBytes(ev.Content, "tags").ForEach(func(name, value gjson.Result) bool {
		order := value.Get("order")
		raw := ""
		if order.Exists() {
			raw = order.String()
		}
		tags[name.String()] = NewRoomTag(name.String(), raw)
		return true
	})
	return tags
}

// CompareTags orders two tags within a room's tag namespace. When both carry
// an order key the raw strings compare at the Unicode codepoint level; a tag
// without an order key sorts after any tag with one. Ties break on the tag
// name so the order is total.
func CompareTags(a, b RoomTag) int {
	switch {
	case a.Order != "" && b.Order == "":
		return -1
	case a.Order == "" && b.Order != "":
		return 1
	case a.Order != "" && b.Order != "":
		if c := strings.Compare(a.Order, b.Order); c != 0 {
			return c
		}
	}
	return strings.Compare(a.Name, b.Name)
}
