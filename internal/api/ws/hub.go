// Package ws pushes telemetry events and alerts to dashboard clients over
// WebSocket. It is the transport behind the subscribe/subscribeAlerts query
// contract; slow clients are skipped, dead ones dropped.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/roof-guardian/monitoring-api/internal/metrics"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// Hub manages WebSocket connections and broadcasts telemetry frames.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger

	unsubEvents func()
	unsubAlerts func()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	// kinds filters frame types; empty means receive all.
	kinds map[string]bool
	mu    sync.Mutex
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// Attach subscribes the hub to the store's event and alert feeds.
func (h *Hub) Attach(store *telemetry.Store) {
	h.unsubEvents = store.Subscribe(func(ev telemetry.Event) {
		h.broadcastEvent(ev)
	})
	h.unsubAlerts = store.SubscribeAlerts(func(alert telemetry.Alert) {
		h.broadcast("alert", alert)
	})
}

// Detach unsubscribes from the store and closes all connections.
func (h *Hub) Detach() {
	if h.unsubEvents != nil {
		h.unsubEvents()
		h.unsubEvents = nil
	}
	if h.unsubAlerts != nil {
		h.unsubAlerts()
		h.unsubAlerts = nil
	}

	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.WSClients.Set(0)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastEvent(ev telemetry.Event) {
	switch ev := ev.(type) {
	case telemetry.ErrorEvent:
		h.broadcast("error", ev.Report)
	case telemetry.MetricEvent:
		h.broadcast("metric", ev.Metric)
	case telemetry.HealthEvent:
		h.broadcast("health", ev.Check)
	}
}

func (h *Hub) broadcast(kind string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"type":    kind,
		"payload": payload,
	})
	if err != nil {
		return
	}

	for c := range h.clients {
		if !c.wants(kind) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// client too slow, skip
		}
	}
}

func (c *client) wants(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.kinds) == 0 || c.kinds[kind]
}

// Handle upgrades the request and manages the connection until it closes.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard origin is not fixed
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{
		conn:  conn,
		send:  make(chan []byte, 64),
		kinds: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(count))

	ctx := r.Context()
	go c.pingLoop(ctx)
	go c.writePump(ctx)
	c.readPump(ctx, h)
}

func (c *client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(ctx context.Context, h *Hub) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.mu.Unlock()
		metrics.WSClients.Set(float64(count))
		close(c.send)
		c.conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}

		var msg struct {
			Type  string   `json:"type"`
			Kinds []string `json:"kinds"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.mu.Lock()
			for _, k := range msg.Kinds {
				c.kinds[k] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, k := range msg.Kinds {
				delete(c.kinds, k)
			}
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	for data := range c.send {
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}
}
