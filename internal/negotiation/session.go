package negotiation

import (
	"log/slog"

	"github.com/hearthside-software/hearth/internal/protocol"
)

// Role is one side of a pairwise negotiation. Roles are assigned
// deterministically, never negotiated: a peer learned from the welcome peer
// list is offered to, a peer first seen through an incoming offer answers.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// session is the per-peer negotiation state. At most one session exists per
// peer identity; the engine goroutine exclusively owns every field.
type session struct {
	logger *slog.Logger

	peerID string
	role   Role

	localDescriptionSet  bool
	remoteDescriptionSet bool

	// Candidates received before the remote description was applied.
	// Drained exactly once, in arrival order, immediately after
	// SetRemoteDescription succeeds; empty thereafter.
	pending []protocol.Candidate

	transport SessionTransport
}

// applyRemoteDescription applies the peer's description and drains any
// buffered candidates in arrival order. The drain happening here, at the
// transition itself, is what guarantees no candidate is ever applied before
// the remote description.
func (s *session) applyRemoteDescription(desc protocol.Description) error {
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.remoteDescriptionSet = true

	for _, cand := range s.pending {
		if err := s.transport.AddCandidate(cand); err != nil {
			// A bad candidate abandons itself, not the session.
			s.logger.Warn("error while applying buffered candidate", "err", err)
		}
	}
	s.pending = nil

	return nil
}

// addCandidate applies a candidate immediately if the remote description is
// already set, and buffers it otherwise.
func (s *session) addCandidate(cand protocol.Candidate) {
	if !s.remoteDescriptionSet {
		s.pending = append(s.pending, cand)
		return
	}
	if err := s.transport.AddCandidate(cand); err != nil {
		s.logger.Warn("error while applying candidate", "err", err)
	}
}

// close tears the session down. Safe even if negotiation never completed.
func (s *session) close() {
	s.pending = nil
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("error while closing transport", "err", err)
	}
}
