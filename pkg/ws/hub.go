// Package ws runs the WebSocket ingress and the per-user broadcast hub.
package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// conn is one live WebSocket connection. Writes serialize through the mutex;
// gorilla connections allow a single concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Hub tracks live connections per user and fans frames out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*conn]struct{})}
}

func (h *Hub) add(userID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
	slog.Info("WebSocket attached", "user_id", userID, "connections", len(h.conns[userID]))
}

func (h *Hub) remove(userID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], c)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Broadcast sends a frame to every live connection of the user. Dead
// connections are dropped silently; the read loop handles their teardown.
func (h *Hub) Broadcast(userID string, frame any) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			slog.Debug("Broadcast write failed", "user_id", userID, "error", err)
		}
	}
}

// ConnectionCount returns the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}
