package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the closed set of control messages exchanged with the relay.
type Kind string

const (
	// Client -> relay

	// KindReady signals the participant is ready to receive the initial peer list.
	KindReady Kind = "ready"
	// KindSignal carries an opaque negotiation payload. Client -> relay messages
	// address a destination participant with To; relay -> client messages carry
	// the sender identity in From.
	KindSignal Kind = "signal"

	// Relay -> client

	KindWelcome    Kind = "welcome"
	KindPeerJoined Kind = "peer-joined"
	KindPeerLeft   Kind = "peer-left"
)

var (
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrMissingField = errors.New("missing required field")
)

// Envelope is the wire representation of every control message.
// Which fields are required depends on Kind; Decode validates this
// at the boundary so consumers never see a partially formed message.
type Envelope struct {
	Kind Kind `json:"kind"`

	// Signal addressing. To is set on client->relay signals,
	// From on relay->client signals.
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	// Opaque negotiation payload, relayed untouched.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Welcome fields: the assigned identity and the identities of all
	// other participants present at that instant. The peer list is a set,
	// serialized as a sequence; order carries no meaning.
	ID    string   `json:"id,omitempty"`
	Peers []string `json:"peers,omitempty"`

	// Presence fields for peer-joined and peer-left.
	PeerID string `json:"peerId,omitempty"`
}

// Decode parses and validates a control message. A non-nil error means the
// message is a protocol error: callers drop it silently rather than closing
// the transport.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Kind {
	case KindReady:
		// No payload.
	case KindSignal:
		if env.To == "" && env.From == "" {
			return Envelope{}, fmt.Errorf("%w: signal requires to or from", ErrMissingField)
		}
		if len(env.Payload) == 0 {
			return Envelope{}, fmt.Errorf("%w: signal requires payload", ErrMissingField)
		}
	case KindWelcome:
		if env.ID == "" {
			return Envelope{}, fmt.Errorf("%w: welcome requires id", ErrMissingField)
		}
	case KindPeerJoined, KindPeerLeft:
		if env.PeerID == "" {
			return Envelope{}, fmt.Errorf("%w: %s requires peerId", ErrMissingField, env.Kind)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	return env, nil
}

// Encode marshals an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
