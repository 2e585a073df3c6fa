package negotiation

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hearthside-software/hearth/internal/protocol"
)

// engineEvent is the closed set of inputs to the engine goroutine: relayed
// signaling messages and local transport callbacks, all serialized through
// one inbox so session state is never mutated concurrently.
type engineEvent interface{ isEngineEvent() }

type welcomeEvent struct{ peers []string }
type peerJoinedEvent struct{ peerID string }
type peerLeftEvent struct{ peerID string }
type signalEvent struct {
	from    string
	payload json.RawMessage
}
type localCandidateEvent struct {
	peerID string
	cand   protocol.Candidate
}
type transportFailedEvent struct{ peerID string }

func (welcomeEvent) isEngineEvent()         {}
func (peerJoinedEvent) isEngineEvent()      {}
func (peerLeftEvent) isEngineEvent()        {}
func (signalEvent) isEngineEvent()          {}
func (localCandidateEvent) isEngineEvent()  {}
func (transportFailedEvent) isEngineEvent() {}

// Engine converts room events observed by one local participant into
// established media transports, one session per remote peer.
//
// The engine is a cooperative, single-threaded state machine: Run consumes
// the inbox on a single goroutine, so sessions never see concurrent
// transitions. No negotiation error is fatal to the engine; at worst the
// affected session is abandoned.
type Engine struct {
	logger *slog.Logger

	signaler Signaler
	factory  TransportFactory

	inbox chan engineEvent

	// Owned exclusively by the Run goroutine.
	sessions map[string]*session
}

// NewEngine creates an engine for one local participant. If logger is nil,
// slog.Default() is used.
func NewEngine(signaler Signaler, factory TransportFactory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:   logger,
		signaler: signaler,
		factory:  factory,
		inbox:    make(chan engineEvent, 64),
		sessions: make(map[string]*session),
	}
}

// Run consumes events until the context is canceled, then tears down every
// remaining session.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for peerID := range e.sessions {
				e.teardown(peerID)
			}
			return
		case ev := <-e.inbox:
			e.dispatch(ev)
		}
	}
}

// HandleEnvelope feeds a relayed control message into the engine. Messages
// the engine has no use for are ignored.
func (e *Engine) HandleEnvelope(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindWelcome:
		e.inbox <- welcomeEvent{peers: env.Peers}
	case protocol.KindPeerJoined:
		e.inbox <- peerJoinedEvent{peerID: env.PeerID}
	case protocol.KindPeerLeft:
		e.inbox <- peerLeftEvent{peerID: env.PeerID}
	case protocol.KindSignal:
		e.inbox <- signalEvent{from: env.From, payload: env.Payload}
	}
}

func (e *Engine) dispatch(ev engineEvent) {
	switch ev := ev.(type) {
	case welcomeEvent:
		// Every peer already present is ours to call: the welcome list
		// assigns us the offerer role for each of them.
		for _, peerID := range ev.peers {
			e.startOfferer(peerID)
		}
	case peerJoinedEvent:
		// The newcomer observed us through its own welcome and will
		// offer; we wait passively. This is what keeps both sides from
		// offering at once.
		e.logger.Debug("peer joined, awaiting its offer", "peer", ev.peerID)
	case peerLeftEvent:
		e.teardown(ev.peerID)
	case signalEvent:
		e.handleSignal(ev.from, ev.payload)
	case localCandidateEvent:
		e.sendCandidate(ev.peerID, ev.cand)
	case transportFailedEvent:
		e.logger.Info("transport failed, abandoning session", "peer", ev.peerID)
		e.teardown(ev.peerID)
	}
}

// startOfferer creates an offerer session for a peer and sends it our offer.
func (e *Engine) startOfferer(peerID string) {
	s := e.createSession(peerID, RoleOfferer)
	if s == nil {
		return
	}

	offer, err := s.transport.CreateOffer()
	if err != nil {
		e.logger.Error("error while creating offer", "err", err, "peer", peerID)
		e.teardown(peerID)
		return
	}
	s.localDescriptionSet = true

	e.sendDescription(peerID, offer)
}

func (e *Engine) handleSignal(from string, raw json.RawMessage) {
	payload, err := protocol.ClassifySignal(raw)
	if err != nil {
		e.logger.Debug("dropping unclassifiable signal", "err", err, "peer", from)
		return
	}

	switch {
	case payload.Description != nil && payload.Description.Type == protocol.DescriptionOffer:
		e.handleOffer(from, *payload.Description)
	case payload.Description != nil:
		e.handleAnswer(from, *payload.Description)
	case payload.Candidate != nil:
		e.handleRemoteCandidate(from, *payload.Candidate)
	}
}

// handleOffer runs the answerer path: a peer with no existing session sent
// us an offer, so it is the offerer and we answer.
func (e *Engine) handleOffer(peerID string, offer protocol.Description) {
	if _, exists := e.sessions[peerID]; exists {
		// Duplicate or crossed offer; the role rule says this cannot
		// happen in a healthy exchange, so drop it.
		e.logger.Debug("dropping offer for existing session", "peer", peerID)
		return
	}

	s := e.createSession(peerID, RoleAnswerer)
	if s == nil {
		return
	}

	if err := s.applyRemoteDescription(offer); err != nil {
		e.logger.Error("error while applying remote offer", "err", err, "peer", peerID)
		e.teardown(peerID)
		return
	}

	answer, err := s.transport.CreateAnswer()
	if err != nil {
		e.logger.Error("error while creating answer", "err", err, "peer", peerID)
		e.teardown(peerID)
		return
	}
	s.localDescriptionSet = true

	e.sendDescription(peerID, answer)
}

// handleAnswer completes the offerer path.
func (e *Engine) handleAnswer(peerID string, answer protocol.Description) {
	s, ok := e.sessions[peerID]
	if !ok || s.role != RoleOfferer || s.remoteDescriptionSet {
		// Peer already gone, or a duplicate answer. Not fatal.
		e.logger.Debug("dropping unmatched answer", "peer", peerID)
		return
	}

	if err := s.applyRemoteDescription(answer); err != nil {
		e.logger.Error("error while applying remote answer", "err", err, "peer", peerID)
		e.teardown(peerID)
	}
}

// handleRemoteCandidate applies or buffers a candidate for an existing
// session. Candidates for unknown peers (for example, a candidate overtaking
// its offer in flight) are dropped here: buffering happens only within an
// existing session, never at the engine level.
func (e *Engine) handleRemoteCandidate(peerID string, cand protocol.Candidate) {
	s, ok := e.sessions[peerID]
	if !ok {
		e.logger.Debug("dropping candidate for unknown peer", "peer", peerID)
		return
	}
	s.addCandidate(cand)
}

func (e *Engine) createSession(peerID string, role Role) *session {
	hooks := TransportHooks{
		OnLocalCandidate: func(cand protocol.Candidate) {
			e.inbox <- localCandidateEvent{peerID: peerID, cand: cand}
		},
		OnFailure: func() {
			e.inbox <- transportFailedEvent{peerID: peerID}
		},
	}

	transport, err := e.factory.NewTransport(peerID, hooks)
	if err != nil {
		e.logger.Error("error while creating transport", "err", err, "peer", peerID)
		return nil
	}

	s := &session{
		logger:    e.logger.With("peer", peerID, "role", role),
		peerID:    peerID,
		role:      role,
		transport: transport,
	}
	e.sessions[peerID] = s

	s.logger.Info("session created")
	return s
}

func (e *Engine) sendDescription(peerID string, desc protocol.Description) {
	payload, err := protocol.MarshalDescription(desc)
	if err != nil {
		e.logger.Error("error while marshalling description", "err", err, "peer", peerID)
		return
	}
	if err := e.signaler.SendSignal(peerID, payload); err != nil {
		e.logger.Error("error while sending description", "err", err, "peer", peerID)
	}
}

// sendCandidate forwards a locally discovered candidate to the peer as soon
// as it is produced, independent of session state. A candidate surfacing
// after teardown is dropped.
func (e *Engine) sendCandidate(peerID string, cand protocol.Candidate) {
	if _, ok := e.sessions[peerID]; !ok {
		return
	}

	payload, err := protocol.MarshalCandidate(cand)
	if err != nil {
		e.logger.Error("error while marshalling candidate", "err", err, "peer", peerID)
		return
	}
	if err := e.signaler.SendSignal(peerID, payload); err != nil {
		e.logger.Error("error while sending candidate", "err", err, "peer", peerID)
	}
}

// teardown closes and removes a peer's session: the transport is closed,
// buffered candidates are discarded, the map entry removed. Safe to invoke
// for unknown peers and for sessions that never became established.
func (e *Engine) teardown(peerID string) {
	s, ok := e.sessions[peerID]
	if !ok {
		return
	}
	delete(e.sessions, peerID)
	s.close()
	s.logger.Info("session torn down")
}
