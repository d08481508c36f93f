package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/notebook-playground/internal/runner"
)

const (
	// eventBuffer is how many snapshots may queue for one client before it is
	// considered too slow and disconnected.
	eventBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventHub pushes surface snapshots to websocket clients. It implements
// runner.Observer, so the dispatcher reports every state change to it.
//
// FAN-OUT:
// SurfaceChanged is called on the dispatching goroutine and must never block.
// Each client owns a buffered channel; a full buffer drops the client instead
// of stalling an execution.
type EventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

var _ runner.Observer = (*EventHub)(nil)

type eventClient struct {
	send     chan runner.Snapshot
	surfaces map[string]bool // empty means every surface
}

func (c *eventClient) wants(s runner.Snapshot) bool {
	return len(c.surfaces) == 0 || c.surfaces[s.ID]
}

// NewEventHub creates an EventHub. allowedOrigins lists the browser origins
// allowed to connect; empty allows any.
func NewEventHub(allowedOrigins []string, logger *slog.Logger) *EventHub {
	h := &EventHub{
		logger:  logger,
		clients: make(map[*eventClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// SurfaceChanged queues s for every interested client.
func (h *EventHub) SurfaceChanged(s runner.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(s) {
			continue
		}
		select {
		case c.send <- s:
		default:
			h.logger.Warn("dropping slow event client")
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleEvents upgrades to a websocket and streams snapshots as JSON.
//
// HTTP: GET /api/events?surface=<id>&surface=<id>
//
// Without surface parameters the client receives every surface's changes.
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &eventClient{
		send:     make(chan runner.Snapshot, eventBuffer),
		surfaces: make(map[string]bool),
	}
	for _, id := range r.URL.Query()["surface"] {
		c.surfaces[id] = true
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event client connected", slog.Int("surfaces", len(c.surfaces)))

	done := make(chan struct{})
	go h.readLoop(conn, c, done)
	h.writeLoop(conn, c, done)
}

// readLoop only exists to process control frames (pong, close). Anything the
// client sends is discarded.
func (h *EventHub) readLoop(conn *websocket.Conn, c *eventClient, done chan<- struct{}) {
	defer close(done)
	defer h.remove(c)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("event client read ended", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *EventHub) writeLoop(conn *websocket.Conn, c *eventClient, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case snap, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *EventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *EventHub) removeLocked(c *eventClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
