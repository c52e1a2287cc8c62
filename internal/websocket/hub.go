// Package websocket pushes sync, connection and backup notifications to
// dashboard clients.
package websocket

import (
	"encoding/json"
	"fmt"
	"sync"

	"tourapp-admin/internal/logging"
)

// Message is one notification broadcast to every client
type Message struct {
	Type   string                 `json:"type"`
	Entity string                 `json:"entity"`
	Action string                 `json:"action"`
	ID     string                 `json:"id,omitempty"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// NewMessage creates a Message whose Type is "<entity>_<action>"
func NewMessage(entity, action, id string, extra map[string]interface{}) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks connected clients and fans messages out to them
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *logging.Logger
	dropped uint64
}

// NewHub creates an empty hub
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.WithField("clients", n).Debug("Dashboard client connected")
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast queues msg for every client. A client whose buffer is full misses
// the message instead of blocking the others.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to encode dashboard message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped++
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many per-client deliveries were skipped
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
