package server

import (
	"encoding/json"
	"sync"

	"github.com/zjrosen/reshuffle/internal/log"
)

// Hub fans pipeline messages out to connected WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// attach registers c and queues the frames returned by replay ahead of any
// later broadcast. replay runs under the hub lock, so a generation published
// concurrently is either part of the replay or broadcast after it, never
// missed. It must not block on the dispatcher. A client that cannot hold the
// replay is closed and not attached.
func (h *Hub) attach(c *Client, replay func() []Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if replay != nil {
		for _, msg := range replay() {
			if !c.enqueue(msg) {
				c.close()
				return false
			}
		}
	}
	h.clients[c] = struct{}{}
	log.Debug(log.CatServe, "websocket client attached", "clients", len(h.clients))
	return true
}

func (h *Hub) detachClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		log.Debug(log.CatServe, "websocket client detached", "clients", n)
	}
}

// Broadcast queues msg on every client. A client whose buffer is full is
// disconnected rather than allowed to block the pipeline.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.ErrorErr(log.CatServe, "websocket marshal error", err, "type", msg.Type)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if !c.send(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn(log.CatServe, "websocket send buffer full, dropping client")
		h.detachClient(c)
	}
}

// Len returns the number of attached clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}
