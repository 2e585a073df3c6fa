package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// The relay never inspects signal payloads; only the negotiation layer does.
// A payload is either a session description or a connectivity candidate,
// discriminated by which of the `type` and `candidate` fields is present.

var ErrUnclassifiablePayload = errors.New("signal payload is neither a description nor a candidate")

// Description is a proposed or agreed media session description,
// exchanged between two negotiating peers.
type Description struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// Candidate is a piece of network reachability information.
// The field layout matches webrtc.ICECandidateInit so payloads pass
// through to the transport layer without transformation.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalPayload is the decoded union of the two payload shapes.
// Exactly one of Description and Candidate is non-nil.
type SignalPayload struct {
	Description *Description
	Candidate   *Candidate
}

// ClassifySignal decodes an opaque signal payload into one of the two
// negotiation payload shapes. Payloads carrying neither discriminating field
// are a protocol error and are dropped by the caller.
func ClassifySignal(raw json.RawMessage) (SignalPayload, error) {
	var probe struct {
		Type      *string `json:"type"`
		Candidate *string `json:"candidate"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return SignalPayload{}, fmt.Errorf("unmarshal signal payload: %w", err)
	}

	switch {
	case probe.Type != nil:
		var desc Description
		if err := json.Unmarshal(raw, &desc); err != nil {
			return SignalPayload{}, fmt.Errorf("unmarshal description: %w", err)
		}
		if desc.Type != DescriptionOffer && desc.Type != DescriptionAnswer {
			return SignalPayload{}, fmt.Errorf("unexpected description type %q", desc.Type)
		}
		return SignalPayload{Description: &desc}, nil
	case probe.Candidate != nil:
		var cand Candidate
		if err := json.Unmarshal(raw, &cand); err != nil {
			return SignalPayload{}, fmt.Errorf("unmarshal candidate: %w", err)
		}
		return SignalPayload{Candidate: &cand}, nil
	default:
		return SignalPayload{}, ErrUnclassifiablePayload
	}
}

// MarshalDescription encodes a description as a signal payload.
func MarshalDescription(desc Description) (json.RawMessage, error) {
	return json.Marshal(desc)
}

// MarshalCandidate encodes a candidate as a signal payload.
func MarshalCandidate(cand Candidate) (json.RawMessage, error) {
	return json.Marshal(cand)
}
