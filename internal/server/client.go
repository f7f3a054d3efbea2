package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/galchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	errClientClosed = errors.New("client closed")
	errSendBuffer   = errors.New("send buffer full")
)

// Client is one websocket connection attached to a single room.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       string
	send       chan *types.ServerMessage
	// room is set by the room goroutine before the pumps start.
	room     *Room
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *types.ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

// Start runs the connection pumps. The preamble frames are written before
// anything queued with Send.
func (c *Client) Start(preamble []*types.ServerMessage) {
	go c.Write(preamble)
	go c.Read()
}

// Reject writes msg and closes the connection without joining a room.
func (c *Client) Reject(msg *types.ServerMessage) {
	go c.Write([]*types.ServerMessage{msg})
	c.Close()
}

// Send queues a frame without blocking.
func (c *Client) Send(msg *types.ServerMessage) error {
	select {
	case <-c.stop:
		return errClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.log.Printf("send buffer full for user %q", c.user)
		return errSendBuffer
	}
}

// Close stops the write pump after it flushes queued frames.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *Client) Write(preamble []*types.ServerMessage) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, msg := range preamble {
		if !c.writeFrame(msg) {
			return
		}
	}

	for {
		select {
		case msg := <-c.send:
			if !c.writeFrame(msg) {
				return
			}
		case <-c.stop:
			c.flush()
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.writeFrame(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.Close()
		if c.room != nil {
			c.room.leave(c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.Send(ErrInvalidMessage(0))
			continue
		}
		msg.Timestamp = Now()

		select {
		case c.room.clientMsgChan <- &inboundMessage{msg: msg, client: c}:
		case <-c.room.done:
			return
		default:
			c.log.Printf("clientMsgChan full for room %q", c.room.id)
			c.Send(ErrServiceUnavailable(msg.Id))
		}
	}
}

func (c *Client) writeFrame(msg *types.ServerMessage) bool {
	bytes, err := json.Marshal(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return true
	}

	return c.sendMessage(websocket.TextMessage, bytes)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}
