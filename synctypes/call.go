// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

// VoIP event content models. These are decoded as typed payloads for
// consumers of the timeline; the reconciliation core itself does not act on
// them.

// CallSessionDescription is an SDP session description, either an offer or
// an answer.
type CallSessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CallInviteContent is the content of an m.call.invite event.
type CallInviteContent struct {
	CallID  string                 `json:"call_id"`
	Offer   CallSessionDescription `json:"offer"`
	Version int                    `json:"version"`
	// Lifetime is how long the invite remains valid, in milliseconds.
	Lifetime int64 `json:"lifetime"`
}

// CallCandidate describes one ICE candidate.
type CallCandidate struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// CallCandidatesContent is the content of an m.call.candidates event.
type CallCandidatesContent struct {
	CallID     string          `json:"call_id"`
	Version    int             `json:"version"`
	Candidates []CallCandidate `json:"candidates"`
}

// CallAnswerContent is the content of an m.call.answer event.
type CallAnswerContent struct {
	CallID  string                 `json:"call_id"`
	Version int                    `json:"version"`
	Answer  CallSessionDescription `json:"answer"`
}

// CallHangupContent is the content of an m.call.hangup event.
type CallHangupContent struct {
	CallID  string `json:"call_id"`
	Version int    `json:"version"`
}
