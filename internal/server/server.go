package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/hub"
	"github.com/npezzotti/galchat/internal/registry"
	"github.com/npezzotti/galchat/internal/stats"
	"github.com/npezzotti/galchat/internal/types"
)

const (
	idleRoomTimeout = 10 * time.Second
	storageTimeout  = 5 * time.Second
)

var ErrServerBusy = errors.New("server busy")

type joinRequest struct {
	roomId string
	client *Client
}

type unloadRoomRequest struct {
	roomId  string
	deleted bool
	// done is closed once the request is handled. Nil for idle unloads.
	done chan struct{}
}

type stopRequest struct {
	done chan struct{}
}

// ChatServer owns the loaded rooms. Each loaded room runs its own goroutine
// which serializes joins, leaves and publishes for that room.
type ChatServer struct {
	log            *log.Logger
	db             database.Repository
	registry       *registry.Registry
	hub            *hub.Hub
	stats          stats.StatsProvider
	joinChan       chan *joinRequest
	unloadRoomChan chan unloadRoomRequest
	stop           chan stopRequest
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	idleTimeout    time.Duration
}

func NewChatServer(logger *log.Logger, db database.Repository, reg *registry.Registry, h *hub.Hub, su stats.StatsProvider) (*ChatServer, error) {
	if db == nil || reg == nil || h == nil {
		return nil, errors.New("chat server requires a repository, registry and hub")
	}

	return &ChatServer{
		log:            logger,
		db:             db,
		registry:       reg,
		hub:            h,
		stats:          su,
		joinChan:       make(chan *joinRequest, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		stop:           make(chan stopRequest),
		rooms:          make(map[string]*Room),
		idleTimeout:    idleRoomTimeout,
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.joinChan:
			cs.handleJoinRequest(req)
		case req := <-cs.unloadRoomChan:
			cs.handleUnloadRequest(req)
		case req := <-cs.stop:
			cs.shutdownRooms()
			close(req.done)
			return
		}
	}
}

// Join queues a connection for admission to a room. Admission and the
// replay of room history happen on the room's goroutine.
func (cs *ChatServer) Join(c *Client, roomId string) error {
	select {
	case cs.joinChan <- &joinRequest{roomId: roomId, client: c}:
		return nil
	default:
		cs.log.Println("joinChan full")
		return ErrServerBusy
	}
}

// UnloadRoom stops a loaded room. When deleted is set, connected clients
// are notified of the deletion before being disconnected.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, deleted bool) error {
	req := unloadRoomRequest{roomId: roomId, deleted: deleted, done: make(chan struct{})}
	select {
	case cs.unloadRoomChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopRequest{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		cs.log.Println("chat server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) handleJoinRequest(req *joinRequest) {
	room := cs.getRoom(req.roomId)
	if room == nil {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		dbRoom, err := cs.registry.Check(ctx, req.roomId)
		cancel()
		if err != nil {
			cs.log.Printf("load room %q: %v", req.roomId, err)
			req.client.Reject(ErrFromStorage(0, err))
			return
		}

		room = newRoom(cs, dbRoom)
		cs.addRoom(room)
		go room.start()
	}

	select {
	case room.joinChan <- req.client:
	default:
		cs.log.Printf("join channel full on room %q", room.id)
		req.client.Reject(ErrServiceUnavailable(0))
	}
}

func (cs *ChatServer) handleUnloadRequest(req unloadRoomRequest) {
	defer func() {
		if req.done != nil {
			close(req.done)
		}
	}()

	room := cs.getRoom(req.roomId)
	if room == nil {
		return
	}

	reason := exitIdle
	if req.deleted {
		reason = exitDeleted
	}

	if room.stopRoom(reason) {
		cs.removeRoom(room.id)
	}
}

func (cs *ChatServer) shutdownRooms() {
	cs.roomsLock.RLock()
	rooms := make([]*Room, 0, len(cs.rooms))
	for _, r := range cs.rooms {
		rooms = append(rooms, r)
	}
	cs.roomsLock.RUnlock()

	for _, r := range rooms {
		r.stopRoom(exitShutdown)
		cs.removeRoom(r.id)
	}
}

func (cs *ChatServer) getRoom(id string) *Room {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	return cs.rooms[id]
}

func (cs *ChatServer) addRoom(r *Room) {
	cs.roomsLock.Lock()
	cs.rooms[r.id] = r
	cs.roomsLock.Unlock()

	cs.stats.Incr(stats.NumActiveRooms)
	cs.log.Printf("loaded room %q", r.id)
}

func (cs *ChatServer) removeRoom(id string) {
	cs.roomsLock.Lock()
	_, ok := cs.rooms[id]
	delete(cs.rooms, id)
	cs.roomsLock.Unlock()

	if ok {
		cs.stats.Decr(stats.NumActiveRooms)
		cs.log.Printf("unloaded room %q", id)
	}
}

// profile resolves the display profile of a user, falling back to the
// bare user id when storage cannot answer.
func (cs *ChatServer) profile(ctx context.Context, userId, roomId string) types.Member {
	member, err := cs.registry.Profile(ctx, userId, roomId)
	if err != nil {
		cs.log.Printf("profile %q in %q: %v", userId, roomId, err)
		return registry.ToMember(database.Membership{}, userId, roomId)
	}
	return member
}
