package mux

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// upgrader is shared across connections to avoid repeated allocation.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 32 * 1024,
}

// Hub owns every live browser Client and fans registry events out to all of
// them. A Client lives exactly as long as its browser WebSocket.
type Hub struct {
	source SessionSource

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub constructs a Hub backed by source.
func NewHub(source SessionSource) *Hub {
	return &Hub{source: source, clients: make(map[*Client]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket and runs a MuxClient for its
// lifetime, blocking until the connection closes. ctx should be derived from
// the WebServer's shutdown token.
func (h *Hub) ServeHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := NewClient(ctx, conn, h.source)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	client.Wait()

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// BroadcastOutput fans a session's output frame out to every connected
// client.
func (h *Hub) BroadcastOutput(sessionID string, cols, rows int, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.BroadcastOutput(sessionID, cols, rows, data)
	}
}

// BroadcastSessionState fans a session creation/close notice out to every
// connected client.
func (h *Hub) BroadcastSessionState(sessionID string, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.BroadcastSessionState(sessionID, created)
	}
}

// ClientCount reports the number of currently attached browser clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll closes every connected client's socket, used during WebServer
// shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
