package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Registry owns the set of rooms, keyed by name. A room is created on first
// reference and lives until the registry is closed; rooms themselves are
// independent actors (see Room), so the registry only guards the name->room
// map.
type Registry struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry. If logger is nil, slog.Default()
// is used.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		logger: logger,
		rooms:  make(map[string]*Room),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Room returns the room with the given name, creating and starting its
// actor on first reference.
func (reg *Registry) Room(name string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[name]
	if !ok {
		room = newRoom(name, reg.logger)
		reg.rooms[name] = room
		go room.run(reg.ctx)
		reg.logger.Info("room created", "room", name)
	}
	return room
}

// Accept admits a freshly upgraded connection into the named room: the
// participant is assigned its identity, registered with the room actor,
// and both connection pumps are started. The registry owns the participant
// from here on; the caller must not touch the connection again.
func (reg *Registry) Accept(roomName string, conn *websocket.Conn) *Participant {
	room := reg.Room(roomName)
	p := newParticipant(room, conn)
	room.postJoin(p)

	go p.writePump()
	go p.readPump()

	return p
}

// Close tears down every room. Safe to call more than once.
func (reg *Registry) Close() {
	reg.cancel()
}
