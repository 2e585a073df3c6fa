package negotiation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hearthside-software/hearth/internal/protocol"
)

// The engine tests drive dispatch directly, the same single-threaded path
// Run takes, against recording fakes for the signaler and the transport
// factory. Transport hooks post back into the engine inbox, so tests pump
// the inbox after firing a hook.

type sentSignal struct {
	to      string
	payload json.RawMessage
}

type fakeSignaler struct {
	sent []sentSignal
	err  error
}

func (f *fakeSignaler) SendSignal(to string, payload json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentSignal{to: to, payload: payload})
	return nil
}

type fakeTransport struct {
	peerID string
	hooks  TransportHooks

	ops        []string
	candidates []protocol.Candidate
	closeCount int

	offerErr     error
	answerErr    error
	remoteErr    error
	candidateErr error
}

func (f *fakeTransport) CreateOffer() (protocol.Description, error) {
	f.ops = append(f.ops, "create-offer")
	if f.offerErr != nil {
		return protocol.Description{}, f.offerErr
	}
	return protocol.Description{Type: protocol.DescriptionOffer, SDP: "offer-" + f.peerID}, nil
}

func (f *fakeTransport) CreateAnswer() (protocol.Description, error) {
	f.ops = append(f.ops, "create-answer")
	if f.answerErr != nil {
		return protocol.Description{}, f.answerErr
	}
	return protocol.Description{Type: protocol.DescriptionAnswer, SDP: "answer-" + f.peerID}, nil
}

func (f *fakeTransport) SetRemoteDescription(desc protocol.Description) error {
	f.ops = append(f.ops, "set-remote-"+desc.Type)
	return f.remoteErr
}

func (f *fakeTransport) AddCandidate(cand protocol.Candidate) error {
	f.ops = append(f.ops, "add-candidate-"+cand.Candidate)
	if f.candidateErr != nil {
		return f.candidateErr
	}
	f.candidates = append(f.candidates, cand)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeCount++
	return nil
}

type fakeFactory struct {
	transports map[string]*fakeTransport
	err        error

	// Applied to the next transport handed out.
	nextOfferErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[string]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(peerID string, hooks TransportHooks) (SessionTransport, error) {
	if f.err != nil {
		return nil, f.err
	}
	tr := &fakeTransport{
		peerID:   peerID,
		hooks:    hooks,
		offerErr: f.nextOfferErr,
	}
	f.transports[peerID] = tr
	return tr, nil
}

func newTestEngine() (*Engine, *fakeSignaler, *fakeFactory) {
	signaler := &fakeSignaler{}
	factory := newFakeFactory()
	return NewEngine(signaler, factory, nil), signaler, factory
}

// pump dispatches everything the transport hooks posted to the inbox.
func pump(e *Engine) {
	for {
		select {
		case ev := <-e.inbox:
			e.dispatch(ev)
		default:
			return
		}
	}
}

func descriptionPayload(t *testing.T, typ, sdp string) json.RawMessage {
	t.Helper()
	payload, err := protocol.MarshalDescription(protocol.Description{Type: typ, SDP: sdp})
	if err != nil {
		t.Fatalf("error while marshalling description: %v", err)
	}
	return payload
}

func candidatePayload(t *testing.T, cand string) json.RawMessage {
	t.Helper()
	payload, err := protocol.MarshalCandidate(protocol.Candidate{Candidate: cand})
	if err != nil {
		t.Fatalf("error while marshalling candidate: %v", err)
	}
	return payload
}

func TestWelcomeMakesUsOffererForEveryListedPeer(t *testing.T) {
	e, signaler, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B", "C"}})

	for _, peerID := range []string{"B", "C"} {
		s, ok := e.sessions[peerID]
		if !ok {
			t.Fatalf("no session for %s", peerID)
		}
		if s.role != RoleOfferer {
			t.Fatalf("session for %s has role %s, want offerer", peerID, s.role)
		}
		if !s.localDescriptionSet {
			t.Fatalf("offerer session for %s should have its local description set", peerID)
		}
		tr := factory.transports[peerID]
		if len(tr.ops) != 1 || tr.ops[0] != "create-offer" {
			t.Fatalf("unexpected transport ops for %s: %v", peerID, tr.ops)
		}
	}

	if len(signaler.sent) != 2 {
		t.Fatalf("expected two offers sent, got %d", len(signaler.sent))
	}
	for i, peerID := range []string{"B", "C"} {
		if signaler.sent[i].to != peerID {
			t.Fatalf("offer %d sent to %s, want %s", i, signaler.sent[i].to, peerID)
		}
		classified, err := protocol.ClassifySignal(signaler.sent[i].payload)
		if err != nil || classified.Description == nil || classified.Description.Type != protocol.DescriptionOffer {
			t.Fatalf("offer %d has unexpected payload: %s", i, signaler.sent[i].payload)
		}
	}
}

func TestPeerJoinedIsPassive(t *testing.T) {
	e, signaler, factory := newTestEngine()

	e.dispatch(peerJoinedEvent{peerID: "B"})

	if len(e.sessions) != 0 {
		t.Fatalf("peer-joined should not create a session, got %d", len(e.sessions))
	}
	if len(signaler.sent) != 0 || len(factory.transports) != 0 {
		t.Fatal("peer-joined should produce no outbound traffic")
	}
}

func TestIncomingOfferMakesUsAnswerer(t *testing.T) {
	e, signaler, factory := newTestEngine()

	e.dispatch(signalEvent{from: "B", payload: descriptionPayload(t, "offer", "v=0")})

	s, ok := e.sessions["B"]
	if !ok {
		t.Fatal("no session for B")
	}
	if s.role != RoleAnswerer {
		t.Fatalf("session role %s, want answerer", s.role)
	}
	if !s.remoteDescriptionSet || !s.localDescriptionSet {
		t.Fatal("answerer session should have both descriptions set")
	}

	tr := factory.transports["B"]
	want := []string{"set-remote-offer", "create-answer"}
	if len(tr.ops) != len(want) || tr.ops[0] != want[0] || tr.ops[1] != want[1] {
		t.Fatalf("unexpected transport ops: %v", tr.ops)
	}

	if len(signaler.sent) != 1 || signaler.sent[0].to != "B" {
		t.Fatalf("expected one answer to B, got %+v", signaler.sent)
	}
	classified, err := protocol.ClassifySignal(signaler.sent[0].payload)
	if err != nil || classified.Description == nil || classified.Description.Type != protocol.DescriptionAnswer {
		t.Fatalf("unexpected answer payload: %s", signaler.sent[0].payload)
	}
}

func TestOfferForExistingSessionIsDropped(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})
	e.dispatch(signalEvent{from: "B", payload: descriptionPayload(t, "offer", "v=0")})

	if len(factory.transports) != 1 {
		t.Fatalf("crossed offer should not create a second transport, got %d", len(factory.transports))
	}
	if e.sessions["B"].role != RoleOfferer {
		t.Fatal("crossed offer should not overwrite our offerer session")
	}
}

func TestCandidatesBufferUntilAnswerThenDrainInOrder(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})

	// Candidates overtake the answer.
	e.dispatch(signalEvent{from: "B", payload: candidatePayload(t, "c1")})
	e.dispatch(signalEvent{from: "B", payload: candidatePayload(t, "c2")})

	tr := factory.transports["B"]
	if len(tr.candidates) != 0 {
		t.Fatalf("candidates applied before the remote description: %v", tr.candidates)
	}

	e.dispatch(signalEvent{from: "B", payload: descriptionPayload(t, "answer", "v=0")})

	// Late candidate goes straight through.
	e.dispatch(signalEvent{from: "B", payload: candidatePayload(t, "c3")})

	want := []string{"create-offer", "set-remote-answer", "add-candidate-c1", "add-candidate-c2", "add-candidate-c3"}
	if len(tr.ops) != len(want) {
		t.Fatalf("transport ops %v, want %v", tr.ops, want)
	}
	for i := range want {
		if tr.ops[i] != want[i] {
			t.Fatalf("transport ops %v, want %v", tr.ops, want)
		}
	}

	if len(e.sessions["B"].pending) != 0 {
		t.Fatal("pending queue should be empty after the drain")
	}
}

func TestDrainHappensAtMostOnce(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})
	e.dispatch(signalEvent{from: "B", payload: candidatePayload(t, "c1")})
	e.dispatch(signalEvent{from: "B", payload: descriptionPayload(t, "answer", "v=0")})

	// A duplicate answer must not replay the queue.
	e.dispatch(signalEvent{from: "B", payload: descriptionPayload(t, "answer", "v=0")})

	tr := factory.transports["B"]
	applied := 0
	for _, op := range tr.ops {
		if op == "add-candidate-c1" {
			applied++
		}
		if op == "set-remote-answer" && applied > 0 {
			t.Fatalf("duplicate answer reapplied the remote description: %v", tr.ops)
		}
	}
	if applied != 1 {
		t.Fatalf("candidate applied %d times, want 1: %v", applied, tr.ops)
	}
}

func TestAnswerWithoutOffererSessionIsDropped(t *testing.T) {
	e, _, factory := newTestEngine()

	// No session at all.
	e.dispatch(signalEvent{from: "B", payload: descriptionPayload(t, "answer", "v=0")})
	if len(e.sessions) != 0 || len(factory.transports) != 0 {
		t.Fatal("stray answer should be ignored")
	}

	// Answerer session: an answer is out of protocol.
	e.dispatch(signalEvent{from: "C", payload: descriptionPayload(t, "offer", "v=0")})
	e.dispatch(signalEvent{from: "C", payload: descriptionPayload(t, "answer", "v=0")})

	tr := factory.transports["C"]
	for _, op := range tr.ops {
		if op == "set-remote-answer" {
			t.Fatalf("answer applied to an answerer session: %v", tr.ops)
		}
	}
}

func TestCandidateForUnknownPeerIsDropped(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(signalEvent{from: "B", payload: candidatePayload(t, "c1")})

	if len(e.sessions) != 0 || len(factory.transports) != 0 {
		t.Fatal("candidate for an unknown peer should not create state")
	}
}

func TestPeerLeftTearsDownOnce(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})
	e.dispatch(signalEvent{from: "B", payload: candidatePayload(t, "c1")})

	e.dispatch(peerLeftEvent{peerID: "B"})
	e.dispatch(peerLeftEvent{peerID: "B"})

	tr := factory.transports["B"]
	if tr.closeCount != 1 {
		t.Fatalf("transport closed %d times, want 1", tr.closeCount)
	}
	if len(e.sessions) != 0 {
		t.Fatal("session should be gone after teardown")
	}

	// Signals for the departed peer are dropped without recreating state.
	e.dispatch(signalEvent{from: "B", payload: descriptionPayload(t, "answer", "v=0")})
	e.dispatch(signalEvent{from: "B", payload: candidatePayload(t, "c2")})
	if len(e.sessions) != 0 {
		t.Fatal("post-teardown signals should not resurrect the session")
	}
}

func TestTransportFailureAbandonsSession(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})

	tr := factory.transports["B"]
	tr.hooks.OnFailure()
	pump(e)

	if tr.closeCount != 1 {
		t.Fatalf("transport closed %d times, want 1", tr.closeCount)
	}
	if len(e.sessions) != 0 {
		t.Fatal("failed session should be removed")
	}
}

func TestLocalCandidateIsForwarded(t *testing.T) {
	e, signaler, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})
	offers := len(signaler.sent)

	mid := "0"
	factory.transports["B"].hooks.OnLocalCandidate(protocol.Candidate{Candidate: "local-c1", SDPMid: &mid})
	pump(e)

	if len(signaler.sent) != offers+1 {
		t.Fatalf("expected one candidate signal, got %d new", len(signaler.sent)-offers)
	}
	last := signaler.sent[len(signaler.sent)-1]
	if last.to != "B" {
		t.Fatalf("candidate sent to %s, want B", last.to)
	}
	classified, err := protocol.ClassifySignal(last.payload)
	if err != nil || classified.Candidate == nil || classified.Candidate.Candidate != "local-c1" {
		t.Fatalf("unexpected candidate payload: %s", last.payload)
	}
}

func TestLocalCandidateAfterTeardownIsDropped(t *testing.T) {
	e, signaler, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})
	e.dispatch(peerLeftEvent{peerID: "B"})
	sent := len(signaler.sent)

	// The gathering goroutine can outlive the session.
	factory.transports["B"].hooks.OnLocalCandidate(protocol.Candidate{Candidate: "late"})
	pump(e)

	if len(signaler.sent) != sent {
		t.Fatalf("candidate for a torn-down session was sent: %+v", signaler.sent[sent:])
	}
}

func TestOfferCreationFailureAbandonsSession(t *testing.T) {
	e, signaler, factory := newTestEngine()
	factory.nextOfferErr = errors.New("no codecs")

	e.dispatch(welcomeEvent{peers: []string{"B"}})

	if len(e.sessions) != 0 {
		t.Fatal("failed offer should tear the session down")
	}
	if factory.transports["B"].closeCount != 1 {
		t.Fatal("transport should be closed after a failed offer")
	}
	if len(signaler.sent) != 0 {
		t.Fatalf("nothing should be sent after a failed offer, got %+v", signaler.sent)
	}
}

func TestUnclassifiablePayloadIsDropped(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B"}})
	before := len(factory.transports["B"].ops)

	e.dispatch(signalEvent{from: "B", payload: json.RawMessage(`{"mystery":true}`)})

	if len(factory.transports["B"].ops) != before {
		t.Fatal("unclassifiable payload should not reach the transport")
	}
}

func TestTeardownClosesEveryTransport(t *testing.T) {
	e, _, factory := newTestEngine()

	e.dispatch(welcomeEvent{peers: []string{"B", "C"}})

	for peerID := range e.sessions {
		e.teardown(peerID)
	}

	for peerID, tr := range factory.transports {
		if tr.closeCount != 1 {
			t.Fatalf("transport for %s closed %d times, want 1", peerID, tr.closeCount)
		}
	}
}
