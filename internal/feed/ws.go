package feed

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed is public read-only data; origin checks belong to the
	// fronting API layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the hub over a websocket endpoint.
type Handler struct {
	hub *Hub
}

// NewHandler creates a websocket handler for the hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or falls too far behind.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id, events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)
	defer conn.Close()

	h.hub.logger.Debug("feed subscriber connected", "id", id, "remote", r.RemoteAddr)

	// Reader goroutine: discard client frames, unblock on close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.hub.logger.Debug("feed subscriber write failed", "id", id, "error", err)
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
