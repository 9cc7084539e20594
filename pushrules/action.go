// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ActionKind is the type of an action. Kinds are exchanged as strings with
// the server, and servers may send kinds outside the enumerated set; those
// are carried verbatim so they survive a round trip.
type ActionKind string

const (
	// NotifyAction alerts the user.
	NotifyAction ActionKind = "notify"
	// DontNotifyAction suppresses the alert.
	DontNotifyAction ActionKind = "dont_notify"
	// CoalesceAction alerts the user, with delivery-side batching. Clients
	// treat it as NotifyAction.
	CoalesceAction ActionKind = "coalesce"
	// SetTweakAction attaches a delivery parameter such as sound or
	// highlight; it carries no alerting decision of its own.
	SetTweakAction ActionKind = "set_tweak"
)

// TweakKey is the name of a set_tweak parameter.
type TweakKey string

const (
	SoundTweak     TweakKey = "sound"
	HighlightTweak TweakKey = "highlight"
)

// Action is one entry of a rule's action list. On the wire an action is
// either a bare string (the kind) or a set_tweak object.
type Action struct {
	Kind  ActionKind  `json:"-"`
	Tweak TweakKey    `json:"-"`
	Value interface{} `json:"-"`
}

// IsCustom reports whether the action kind is outside the enumerated set.
func (a *Action) IsCustom() bool {
	switch a.Kind {
	case NotifyAction, DontNotifyAction, CoalesceAction, SetTweakAction:
		return false
	}
	return true
}

func (a *Action) MarshalJSON() ([]byte, error) {
	if a.Kind != SetTweakAction {
		return json.Marshal(string(a.Kind))
	}
	m := map[string]interface{}{"set_tweak": string(a.Tweak)}
	if a.Value != nil {
		m["value"] = a.Value
	}
	return json.Marshal(m)
}

func (a *Action) UnmarshalJSON(bs []byte) error {
	if len(bs) > 0 && bs[0] == '"' {
		var kind string
		if err := json.Unmarshal(bs, &kind); err != nil {
			return err
		}
		a.Kind = ActionKind(kind)
		return nil
	}

	var obj struct {
		SetTweak string      `json:"set_tweak"`
		Value    interface{} `json:"value"`
	}
	if err := json.Unmarshal(bs, &obj); err != nil {
		return err
	}
	if obj.SetTweak == "" {
		return errors.New("push rule action object without set_tweak")
	}
	a.Kind = SetTweakAction
	a.Tweak = TweakKey(obj.SetTweak)
	a.Value = obj.Value
	return nil
}

// ActionsToTweaks splits a matched rule's actions into the primary alerting
// decision and the set_tweak parameters. CoalesceAction is reported as
// NotifyAction since the caller's concern is only whether to alert. Custom
// actions carry no alerting decision and are skipped here; the caller still
// has them in the full action list.
func ActionsToTweaks(as []*Action) (ActionKind, map[TweakKey]interface{}) {
	var kind ActionKind
	var tweaks map[TweakKey]interface{}
	for _, a := range as {
		switch a.Kind {
		case SetTweakAction:
			if tweaks == nil {
				tweaks = map[TweakKey]interface{}{}
			}
			tweaks[a.Tweak] = a.Value
		case CoalesceAction:
			kind = NotifyAction
		case NotifyAction, DontNotifyAction:
			kind = a.Kind
		}
	}
	return kind, tweaks
}
