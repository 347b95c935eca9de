package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Status pushes are read-only; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans job status transitions out to websocket subscribers. Slow or
// dead clients are dropped rather than allowed to block the pipeline.
type Hub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
}

// NewHub creates a websocket hub
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:     log.WithField("component", "ws"),
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// HandleWS upgrades the connection and subscribes it to job updates
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("Websocket client connected", map[string]interface{}{"clients": n})

	// Drain the read side to notice close frames; clients never send data.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast pushes one job view to every subscriber
func (h *Hub) Broadcast(view models.JobView) {
	h.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, wmu := range h.clients {
		conns[conn] = wmu
	}
	h.mu.Unlock()

	for conn, wmu := range conns {
		wmu.Lock()
		err := conn.WriteJSON(view)
		wmu.Unlock()
		if err != nil {
			h.drop(conn)
		}
	}
}

// Close disconnects all subscribers
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	return nil
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}
