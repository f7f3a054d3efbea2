package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/registry"
	"github.com/npezzotti/galchat/internal/sanitize"
	"github.com/npezzotti/galchat/internal/stats"
	"github.com/npezzotti/galchat/internal/types"
)

type exitReason int

const (
	exitIdle exitReason = iota
	exitDeleted
	exitShutdown
)

type exitReq struct {
	reason exitReason
	// done receives whether the room stopped.
	done chan bool
}

type inboundMessage struct {
	msg    types.ClientMessage
	client *Client
}

type Room struct {
	id            string
	name          string
	cs            *ChatServer
	log           *log.Logger
	joinChan      chan *Client
	leaveChan     chan *Client
	clientMsgChan chan *inboundMessage
	clients       map[*Client]struct{}
	// killTimer unloads the room once it has no connections left
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(cs *ChatServer, dbRoom database.Room) *Room {
	return &Room{
		id:            dbRoom.Id,
		name:          dbRoom.Name,
		cs:            cs,
		log:           cs.log,
		joinChan:      make(chan *Client, 256),
		leaveChan:     make(chan *Client, 256),
		clientMsgChan: make(chan *inboundMessage, 256),
		clients:       make(map[*Client]struct{}),
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(r.cs.idleTimeout)
	r.killTimer.Stop()
	defer close(r.done)

	for {
		select {
		case c := <-r.joinChan:
			r.handleJoin(c)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case in := <-r.clientMsgChan:
			r.handlePublish(in)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if r.handleRoomExit(e) {
				return
			}
		}
	}
}

// stopRoom asks the room goroutine to exit and reports whether it did.
func (r *Room) stopRoom(reason exitReason) bool {
	e := exitReq{reason: reason, done: make(chan bool, 1)}
	select {
	case r.exit <- e:
	case <-r.done:
		return true
	}

	return <-e.done
}

// leave queues a departing connection. It never blocks on a room that
// has already stopped.
func (r *Room) leave(c *Client) {
	select {
	case r.leaveChan <- c:
	case <-r.done:
	}
}

func (r *Room) handleJoin(c *Client) {
	r.killTimer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	dbRoom, err := r.cs.registry.Check(ctx, r.id)
	if err != nil {
		r.log.Printf("check room %q: %v", r.id, err)
		c.Reject(ErrFromStorage(0, err))
		r.resetIdleTimer()
		return
	}
	r.name = dbRoom.Name

	if _, err := r.cs.registry.Join(ctx, c.user, r.id); err != nil {
		r.log.Printf("join %q to %q: %v", c.user, r.id, err)
		c.Reject(ErrFromStorage(0, err))
		r.resetIdleTimer()
		return
	}

	history, err := r.cs.db.GetMessages(ctx, r.id)
	if err != nil {
		r.log.Printf("history for %q: %v", r.id, err)
		c.Reject(ErrFromStorage(0, err))
		r.resetIdleTimer()
		return
	}

	members, err := r.cs.registry.Members(ctx, r.id)
	if err != nil {
		r.log.Printf("members of %q: %v", r.id, err)
		c.Reject(ErrFromStorage(0, err))
		r.resetIdleTimer()
		return
	}

	profiles := make(map[string]database.Membership, len(members))
	for _, m := range members {
		profiles[m.UserId] = m
	}

	preamble := make([]*types.ServerMessage, 0, len(history)+1)
	preamble = append(preamble, InitMessage(database.Room{Id: r.id, Name: r.name},
		memberOf(profiles, c.user, r.id)))
	for _, msg := range history {
		preamble = append(preamble, ChatMessage(msg, memberOf(profiles, msg.UserId, r.id)))
	}

	c.room = r
	r.clients[c] = struct{}{}
	r.cs.hub.Register(r.id, c)
	r.cs.stats.Incr(stats.NumActiveClients)
	c.Start(preamble)

	r.log.Printf("user %q joined room %q, replayed %d messages", c.user, r.id, len(history))
}

func (r *Room) handleLeave(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	r.cs.hub.Unregister(r.id, c)
	r.cs.stats.Decr(stats.NumActiveClients)
	c.Close()

	r.log.Printf("user %q disconnected from room %q", c.user, r.id)
	r.resetIdleTimer()
}

func (r *Room) handlePublish(in *inboundMessage) {
	c := in.client
	if _, ok := r.clients[c]; !ok {
		return
	}

	params, ok := r.validate(in)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	msg, err := r.cs.db.CreateMessage(ctx, params)
	if err != nil {
		r.log.Printf("CreateMessage in %q: %v", r.id, err)
		c.Send(ErrFromStorage(in.msg.Id, err))
		return
	}

	author := r.cs.profile(ctx, c.user, r.id)
	r.cs.hub.Broadcast(r.id, ChatMessage(msg, author))
	r.cs.stats.Incr(stats.MessagesPublished)

	if in.msg.Id > 0 {
		c.Send(NoErrAccepted(in.msg.Id, msg.Id))
	}
}

// validate turns a client frame into message params, replying to the
// sender when the frame is rejected.
func (r *Room) validate(in *inboundMessage) (database.CreateMessageParams, bool) {
	c := in.client
	params := database.CreateMessageParams{
		RoomId: r.id,
		UserId: c.user,
		Kind:   in.msg.Kind,
	}
	if params.Kind == "" {
		params.Kind = types.MessageKindText
	}

	switch params.Kind {
	case types.MessageKindText:
		params.Body = sanitize.Message(in.msg.Text)
		if params.Body == "" {
			c.Send(ErrInvalidMessage(in.msg.Id))
			return params, false
		}
	case types.MessageKindFile:
		if in.msg.FileId <= 0 {
			c.Send(ErrUnknownFile(in.msg.Id))
			return params, false
		}

		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()

		blob, err := r.cs.db.GetBlobById(ctx, in.msg.FileId)
		if err != nil {
			r.log.Printf("file %d: %v", in.msg.FileId, err)
			if errors.Is(err, types.ErrNotFound) {
				c.Send(ErrUnknownFile(in.msg.Id))
			} else {
				c.Send(ErrFromStorage(in.msg.Id, err))
			}
			return params, false
		}

		params.BlobId = blob.Id
		params.Body = sanitize.Text(in.msg.Text)
		if params.Body == "" {
			params.Body = blob.Digest[:12]
		}
	default:
		c.Send(ErrInvalidMessage(in.msg.Id))
		return params, false
	}

	return params, true
}

func (r *Room) handleRoomTimeout() {
	if len(r.clients) > 0 {
		return
	}

	r.log.Printf("room %q timed out", r.id)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.id}:
	default:
		r.resetIdleTimer()
	}
}

// handleRoomExit reports whether the room goroutine should return.
func (r *Room) handleRoomExit(e exitReq) bool {
	switch e.reason {
	case exitIdle:
		// joins queued before the unload keep the room loaded
		r.drainJoins()
		if len(r.clients) > 0 {
			e.done <- false
			return false
		}
	case exitDeleted:
		if r.recreated() {
			e.done <- false
			return false
		}
		r.log.Printf("room %q deleted", r.id)
		r.rejectJoins(ErrRoomNotFound(0))
		r.evict(RoomDeletedNotification(r.id))
	case exitShutdown:
		r.rejectJoins(ErrServiceUnavailable(0))
		r.evict(nil)
	}

	r.killTimer.Stop()
	e.done <- true
	return true
}

// recreated reports whether the room exists again in storage after a
// delete. Connections left over from before the delete are evicted.
func (r *Room) recreated() bool {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	dbRoom, err := r.cs.registry.Check(ctx, r.id)
	if err != nil {
		return false
	}

	r.log.Printf("room %q was re-created, keeping it loaded", r.id)
	r.name = dbRoom.Name
	for c := range r.clients {
		_, err := r.cs.registry.Member(ctx, c.user, r.id)
		if !errors.Is(err, types.ErrNotFound) {
			continue
		}
		delete(r.clients, c)
		r.cs.hub.Unregister(r.id, c)
		r.cs.stats.Decr(stats.NumActiveClients)
		c.Send(RoomDeletedNotification(r.id))
		c.Close()
	}
	r.resetIdleTimer()

	return true
}

func (r *Room) drainJoins() {
	for {
		select {
		case c := <-r.joinChan:
			r.handleJoin(c)
		default:
			return
		}
	}
}

func (r *Room) rejectJoins(msg *types.ServerMessage) {
	for {
		select {
		case c := <-r.joinChan:
			c.Reject(msg)
		default:
			return
		}
	}
}

func (r *Room) evict(notice *types.ServerMessage) {
	r.cs.hub.Evict(r.id, notice)
	for c := range r.clients {
		delete(r.clients, c)
		r.cs.stats.Decr(stats.NumActiveClients)
	}
}

func (r *Room) resetIdleTimer() {
	if len(r.clients) == 0 {
		r.killTimer.Reset(r.cs.idleTimeout)
	}
}

func memberOf(profiles map[string]database.Membership, userId, roomId string) types.Member {
	return registry.ToMember(profiles[userId], userId, roomId)
}
