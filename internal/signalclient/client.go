// Package signalclient is the participant side of the relay transport: one
// persistent, ordered, duplex websocket carrying control messages to and from
// the room the participant joined.
package signalclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hearthside-software/hearth/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("signaling connection closed")

// Client manages the websocket connection to the relay for one participant.
// Events arrive on the Events channel in exactly the order the transport
// delivered them; no reordering happens in this layer.
type Client struct {
	logger *slog.Logger

	conn *websocket.Conn

	events   chan protocol.Envelope
	outgoing chan protocol.Envelope
	done     chan struct{}

	closeOnce sync.Once
}

// Dial connects to the relay and joins the named room. relayURL is the
// relay's base URL with a ws or wss scheme, e.g. "ws://localhost:8188".
// If logger is nil, slog.Default() is used.
func Dial(relayURL string, room string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	u = u.JoinPath("rooms", room, "ws")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		logger:   logger.With("room", room),
		conn:     conn,
		events:   make(chan protocol.Envelope, 64),
		outgoing: make(chan protocol.Envelope, 64),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Events returns the channel of control messages from the relay. The channel
// is closed when the connection drops, which callers treat the same as every
// remaining peer leaving.
func (c *Client) Events() <-chan protocol.Envelope {
	return c.events
}

// Ready tells the relay this participant is ready to receive the initial
// peer list. Send it once, after installing the Events consumer.
func (c *Client) Ready() error {
	return c.enqueue(protocol.Envelope{Kind: protocol.KindReady})
}

// SendSignal relays an opaque payload to the addressed peer. Implements the
// negotiation engine's Signaler interface.
func (c *Client) SendSignal(to string, payload json.RawMessage) error {
	return c.enqueue(protocol.Envelope{
		Kind:    protocol.KindSignal,
		To:      to,
		Payload: payload,
	})
}

func (c *Client) enqueue(env protocol.Envelope) error {
	// Checked first so a send after Close never wins the race against the
	// buffered outgoing channel.
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case <-c.done:
		return ErrClosed
	case c.outgoing <- env:
		return nil
	}
}

// Close shuts the connection down gracefully. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.events)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read error", "err", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("dropping malformed message from relay", "err", err)
			continue
		}

		c.events <- env
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			data, err := protocol.Encode(env)
			if err != nil {
				c.logger.Error("error while encoding envelope", "err", err, "kind", env.Kind)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
