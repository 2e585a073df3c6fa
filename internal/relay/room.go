package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hearthside-software/hearth/internal/protocol"
)

// participantState tracks the lifecycle of a participant within its room:
// Connected -> Ready -> Closed. A Closed participant is simply absent from
// the membership map.
type participantState int

const (
	stateConnected participantState = iota
	stateReady
)

// roomEvent is the closed set of inputs to a room actor.
type roomEvent interface{ isRoomEvent() }

type joinEvent struct{ p *Participant }
type readyEvent struct{ p *Participant }
type leaveEvent struct{ p *Participant }
type relayEvent struct {
	from    *Participant
	to      string
	payload json.RawMessage
}

func (joinEvent) isRoomEvent()  {}
func (readyEvent) isRoomEvent() {}
func (leaveEvent) isRoomEvent() {}
func (relayEvent) isRoomEvent() {}

// Room is a single-writer actor owning the membership of one named room.
// All membership changes and signal relays are serialized through the inbox,
// giving every participant a consistent view of who was present when it
// became ready. Rooms share nothing and run concurrently with one another.
type Room struct {
	logger *slog.Logger

	name  string
	inbox chan roomEvent

	// Owned exclusively by run(). Never touched from outside the actor.
	members map[string]*Participant
	states  map[string]participantState

	// Participants whose outbound buffer overflowed during the current
	// event. Collected so removal never interleaves with an in-flight
	// broadcast batch.
	dead []*Participant
}

func newRoom(name string, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		logger:  logger.With("room", name),
		name:    name,
		inbox:   make(chan roomEvent, 64),
		members: make(map[string]*Participant),
		states:  make(map[string]participantState),
	}
}

// Name returns the room's lookup key.
func (r *Room) Name() string {
	return r.name
}

// run is the actor loop. It exits when the context is canceled, closing
// every remaining participant on the way out.
func (r *Room) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, p := range r.members {
				r.remove(p, false)
			}
			return
		case ev := <-r.inbox:
			r.dispatch(ev)
		}
	}
}

func (r *Room) dispatch(ev roomEvent) {
	switch ev := ev.(type) {
	case joinEvent:
		r.handleJoin(ev.p)
	case readyEvent:
		r.handleReady(ev.p)
	case leaveEvent:
		r.handleLeave(ev.p)
	case relayEvent:
		r.handleRelay(ev.from, ev.to, ev.payload)
	}

	// A failed send is an eventual close for that participant. Removing
	// someone may overflow further buffers, so drain until stable.
	for len(r.dead) > 0 {
		p := r.dead[0]
		r.dead = r.dead[1:]
		if _, ok := r.members[p.id]; ok {
			r.remove(p, true)
		}
	}
}

// postJoin, postReady, postLeave and postRelay are the only entry points
// into the actor. They may be called from any goroutine.

func (r *Room) postJoin(p *Participant)  { r.inbox <- joinEvent{p} }
func (r *Room) postReady(p *Participant) { r.inbox <- readyEvent{p} }
func (r *Room) postLeave(p *Participant) { r.inbox <- leaveEvent{p} }
func (r *Room) postRelay(from *Participant, to string, payload json.RawMessage) {
	r.inbox <- relayEvent{from: from, to: to, payload: payload}
}

func (r *Room) handleJoin(p *Participant) {
	r.members[p.id] = p
	r.states[p.id] = stateConnected
	r.logger.Debug("participant connected", "participant", p.id, "members", len(r.members))
}

// handleReady performs the Connected -> Ready transition as one atomic step
// relative to this room's event stream: the welcome snapshot and the
// peer-joined notifications both describe the same instant.
func (r *Room) handleReady(p *Participant) {
	if _, ok := r.members[p.id]; !ok {
		return
	}
	if r.states[p.id] != stateConnected {
		// Duplicate ready. Not fatal, just dropped.
		r.logger.Debug("dropping duplicate ready", "participant", p.id)
		return
	}
	r.states[p.id] = stateReady

	peers := make([]string, 0, len(r.members)-1)
	for id := range r.members {
		if id != p.id {
			peers = append(peers, id)
		}
	}

	r.deliver(p, protocol.Envelope{
		Kind:  protocol.KindWelcome,
		ID:    p.id,
		Peers: peers,
	})

	joined := protocol.Envelope{
		Kind:   protocol.KindPeerJoined,
		PeerID: p.id,
	}
	for _, id := range peers {
		r.deliver(r.members[id], joined)
	}

	r.logger.Info("participant ready", "participant", p.id, "peers", len(peers))
}

// handleLeave removes a participant and broadcasts peer-left to everyone
// still present. Firing twice for the same participant (error then close,
// or a failed write racing the read pump) is a no-op the second time.
func (r *Room) handleLeave(p *Participant) {
	if _, ok := r.members[p.id]; !ok {
		return
	}
	r.remove(p, true)
}

func (r *Room) remove(p *Participant, broadcast bool) {
	delete(r.members, p.id)
	delete(r.states, p.id)
	close(p.send)

	if broadcast {
		left := protocol.Envelope{
			Kind:   protocol.KindPeerLeft,
			PeerID: p.id,
		}
		for _, other := range r.members {
			r.deliver(other, left)
		}
	}

	r.logger.Info("participant left", "participant", p.id, "members", len(r.members))
}

// handleRelay forwards an addressed signal payload, untouched, with the
// sender identity attached. An unknown destination means the peer already
// left; the message is silently dropped, not an error.
func (r *Room) handleRelay(from *Participant, to string, payload json.RawMessage) {
	if _, ok := r.members[from.id]; !ok {
		return
	}
	dest, ok := r.members[to]
	if !ok {
		r.logger.Debug("dropping signal for departed peer", "from", from.id, "to", to)
		return
	}

	r.deliver(dest, protocol.Envelope{
		Kind:    protocol.KindSignal,
		From:    from.id,
		Payload: payload,
	})
}

// deliver enqueues an envelope for a participant without ever blocking the
// actor. A participant whose buffer is full is considered dead: delivery is
// abandoned and the participant is queued for removal once the current event
// finishes, as if its transport had closed.
func (r *Room) deliver(p *Participant, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		r.logger.Error("error while encoding envelope", "err", err, "kind", env.Kind)
		return
	}

	select {
	case p.send <- data:
	default:
		r.logger.Warn("participant send buffer full, removing", "participant", p.id)
		r.dead = append(r.dead, p)
	}
}
