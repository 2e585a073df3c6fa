package relay

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hearthside-software/hearth/internal/protocol"
)

const (
	// Time allowed to write a message to a participant.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from a participant.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. SDP payloads fit comfortably.
	maxMessageSize = 64 * 1024

	// Outbound buffer per participant. A participant that cannot drain
	// this buffer is treated as dead.
	sendBufferSize = 64
)

// Participant is one connected transport in a room. The room actor
// exclusively owns its membership state; the participant itself only
// owns its two connection pumps.
type Participant struct {
	logger *slog.Logger

	// Identity assigned at accept time. Opaque, random, unique in the room.
	id string

	room *Room
	conn *websocket.Conn

	// Outbound messages. Written to only by the room actor, drained by
	// writePump. Closed by the room actor when the participant is removed.
	send chan []byte
}

func newParticipant(room *Room, conn *websocket.Conn) *Participant {
	p := &Participant{
		id:   uuid.New().String(),
		room: room,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	p.logger = room.logger.With("participant", p.id)
	return p
}

// ID returns the identity the registry assigned to this participant.
func (p *Participant) ID() string {
	return p.id
}

// readPump pumps messages from the websocket connection into the room actor.
// There is at most one reader per connection; all reads happen here.
//
// Transport close and transport error are treated identically: both end the
// loop and post a single leave event. The room actor makes removal idempotent,
// so a racing write failure posting its own leave is harmless.
func (p *Participant) readPump() {
	defer func() {
		p.room.postLeave(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.logger.Debug("read error", "err", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			// Protocol error: drop the message, keep the transport.
			p.logger.Debug("dropping malformed message", "err", err)
			continue
		}

		switch env.Kind {
		case protocol.KindReady:
			p.room.postReady(p)
		case protocol.KindSignal:
			if env.To == "" {
				p.logger.Debug("dropping signal with no destination")
				continue
			}
			p.room.postRelay(p, env.To, env.Payload)
		default:
			// Relay->client kinds have no meaning inbound.
			p.logger.Debug("dropping unexpected inbound message", "kind", env.Kind)
		}
	}
}

// writePump pumps messages from the room actor to the websocket connection
// and keeps the connection alive with periodic pings. There is at most one
// writer per connection; all writes happen here.
func (p *Participant) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The room actor removed this participant.
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("write error", "err", err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
