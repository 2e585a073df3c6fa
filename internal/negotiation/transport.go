package negotiation

import (
	"encoding/json"

	"github.com/hearthside-software/hearth/internal/protocol"
)

// Signaler delivers an addressed, opaque payload to a peer through the relay.
// Implemented by the signaling client; faked in tests.
type Signaler interface {
	SendSignal(to string, payload json.RawMessage) error
}

// TransportHooks are the callbacks a transport fires as negotiation
// progresses. Both are invoked from transport-internal goroutines; the
// engine re-serializes them through its inbox, so hook implementations
// must not assume they run on the engine goroutine.
type TransportHooks struct {
	// OnLocalCandidate fires for every locally discovered connectivity
	// candidate. Candidates are sent to the peer immediately, independent
	// of session state.
	OnLocalCandidate func(protocol.Candidate)

	// OnFailure fires at most once, when the transport has failed
	// permanently. The engine responds by tearing the session down.
	OnFailure func()
}

// SessionTransport is the direct media transport a negotiation session
// drives toward an established state. The engine only speaks this interface;
// PionTransport implements it over a webrtc.PeerConnection, and tests use
// an in-memory fake.
//
// Local media tracks are attached when the transport is created, and never
// again: tracks added to local media later are not propagated to peers that
// already negotiated (there is no renegotiation path).
type SessionTransport interface {
	// CreateOffer produces and applies a local offer description.
	CreateOffer() (protocol.Description, error)

	// CreateAnswer produces and applies a local answer description.
	// Requires the remote description to have been applied first.
	CreateAnswer() (protocol.Description, error)

	// SetRemoteDescription applies the peer's description.
	SetRemoteDescription(protocol.Description) error

	// AddCandidate applies a connectivity candidate from the peer.
	// Must only be called after SetRemoteDescription has succeeded;
	// the session's pending queue enforces this ordering.
	AddCandidate(protocol.Candidate) error

	// Close releases the transport. Safe to call at any negotiation stage,
	// and more than once.
	Close() error
}

// TransportFactory creates one SessionTransport per remote peer.
type TransportFactory interface {
	NewTransport(peerID string, hooks TransportHooks) (SessionTransport, error)
}
