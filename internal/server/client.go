package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/reshuffle/internal/log"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 1 << 16
)

// CommandHandler handles one command read from a client.
type CommandHandler func(c *Client, cmd Command)

// Client is one WebSocket connection. Outgoing frames go through a buffered
// channel drained by WritePump, so frames leave in the order they were
// queued.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	out       chan []byte
	onCommand CommandHandler

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn with a send buffer of buf frames. The buffer holds
// at least one frame so replay can be queued before WritePump starts.
func NewClient(hub *Hub, conn *websocket.Conn, buf int, onCommand CommandHandler) *Client {
	buf = max(buf, 1)
	return &Client{
		hub:       hub,
		conn:      conn,
		out:       make(chan []byte, buf),
		onCommand: onCommand,
	}
}

// send queues data without blocking. It reports false when the buffer is
// full or the client is closed.
func (c *Client) send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// enqueue queues one frame for this client only. It reports false when the
// frame was not queued.
func (c *Client) enqueue(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.ErrorErr(log.CatServe, "websocket marshal error", err, "type", msg.Type)
		return false
	}
	if !c.send(data) {
		log.Warn(log.CatServe, "websocket frame not queued", "type", msg.Type, "buffer", cap(c.out))
		return false
	}
	return true
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// WritePump drains the send buffer and keeps the connection alive with
// pings. It returns when the client is closed or a write fails.
func (c *Client) WritePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn(log.CatServe, "websocket write error", "error", err)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn(log.CatServe, "websocket ping error", "error", err)
				return
			}
		}
	}
}

// ReadPump reads commands until the connection closes, then detaches the
// client from its hub.
func (c *Client) ReadPump() {
	defer c.hub.detachClient(c)

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn(log.CatServe, "websocket read error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.onCommand != nil {
			c.onCommand(c, cmd)
		}
	}
}
