package hub

import (
	"log"
	"sync"

	"github.com/npezzotti/galchat/internal/stats"
	"github.com/npezzotti/galchat/internal/types"
)

// Conn is a live connection subscribed to a room.
type Conn interface {
	// Send queues a frame without blocking. An error means the connection
	// can no longer take frames.
	Send(msg *types.ServerMessage) error
	Close() error
}

type roomConns struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
}

// Hub tracks the live connections of every room and fans frames out to
// them. Lock order is hub, then room.
type Hub struct {
	log   *log.Logger
	stats stats.StatsProvider
	mu    sync.RWMutex
	rooms map[string]*roomConns
}

func New(logger *log.Logger, su stats.StatsProvider) *Hub {
	return &Hub{
		log:   logger,
		stats: su,
		rooms: make(map[string]*roomConns),
	}
}

func (h *Hub) Register(roomId string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rc, ok := h.rooms[roomId]
	if !ok {
		rc = &roomConns{conns: make(map[Conn]struct{})}
		h.rooms[roomId] = rc
	}

	rc.mu.Lock()
	rc.conns[c] = struct{}{}
	rc.mu.Unlock()
}

// Unregister removes a connection. Unknown connections are ignored.
func (h *Hub) Unregister(roomId string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rc, ok := h.rooms[roomId]
	if !ok {
		return
	}

	rc.mu.Lock()
	delete(rc.conns, c)
	empty := len(rc.conns) == 0
	rc.mu.Unlock()

	if empty {
		delete(h.rooms, roomId)
	}
}

// Broadcast delivers msg to every connection of the room. Connections whose
// send fails are removed and closed; the rest still receive the frame.
func (h *Hub) Broadcast(roomId string, msg *types.ServerMessage) int {
	h.mu.RLock()
	rc, ok := h.rooms[roomId]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	var failed []Conn
	delivered := 0

	rc.mu.Lock()
	for c := range rc.conns {
		if err := c.Send(msg); err != nil {
			failed = append(failed, c)
			delete(rc.conns, c)
			continue
		}
		delivered++
	}
	empty := len(rc.conns) == 0
	rc.mu.Unlock()

	for _, c := range failed {
		h.log.Printf("dropping connection from room %q: send failed", roomId)
		h.stats.Incr(stats.BroadcastDrops)
		c.Close()
	}

	if empty {
		h.mu.Lock()
		// the room may have gained connections meanwhile
		if cur, ok := h.rooms[roomId]; ok && cur == rc {
			rc.mu.Lock()
			if len(rc.conns) == 0 {
				delete(h.rooms, roomId)
			}
			rc.mu.Unlock()
		}
		h.mu.Unlock()
	}

	return delivered
}

// Evict removes every connection of a room, sends msg to each when not nil
// and closes them.
func (h *Hub) Evict(roomId string, msg *types.ServerMessage) int {
	h.mu.Lock()
	rc, ok := h.rooms[roomId]
	delete(h.rooms, roomId)
	h.mu.Unlock()
	if !ok {
		return 0
	}

	rc.mu.Lock()
	conns := make([]Conn, 0, len(rc.conns))
	for c := range rc.conns {
		conns = append(conns, c)
	}
	rc.conns = make(map[Conn]struct{})
	rc.mu.Unlock()

	for _, c := range conns {
		if msg != nil {
			c.Send(msg)
		}
		c.Close()
	}

	return len(conns)
}

func (h *Hub) Count(roomId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rc, ok := h.rooms[roomId]
	if !ok {
		return 0
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.conns)
}
