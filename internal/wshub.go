// wshub.go
package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// WSHub broadcasts the per-tick decision summary to connected websocket
// clients. Slow or dead clients are dropped rather than allowed to
// block the tick loop.
type WSHub struct {
	lg       *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewWSHub(lg *slog.Logger) *WSHub {
	return &WSHub{
		lg: lg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: map[*websocket.Conn]struct{}{},
	}
}

// Handle upgrades an HTTP request to a websocket subscription.
func (h *WSHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Warn("ws upgrade failed", "error", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.lg.Info("ws client connected", "clients", n)

	// Reader goroutine: we ignore inbound messages but need the read
	// loop to detect close frames.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends v as JSON to every client. Implements Broadcaster.
func (h *WSHub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.lg.Error("ws marshal", "error", err)
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			h.drop(c)
		}
	}
}

// Close disconnects all clients.
func (h *WSHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clients = map[*websocket.Conn]struct{}{}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if present {
		_ = conn.Close()
		h.lg.Info("ws client dropped")
	}
}
