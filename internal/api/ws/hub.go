// Package ws streams memory lifecycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/memorycore/internal/events"
	"github.com/scrypster/memorycore/internal/notify"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// Hub fans events out to connected WebSocket clients. Clients may scope
// themselves to one tenant with the ?tenant= query parameter.
type Hub struct {
	clients        map[subscriber]struct{}
	broadcast      chan notify.Record
	register       chan subscriber
	unregister     chan subscriber
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	logger         *log.Logger
	originPatterns []string
}

// subscriber allows for both real connections and test doubles.
type subscriber interface {
	tenant() string
	sendChannel() chan []byte
	close()
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send     chan []byte
	tenantID string
}

func (c *client) tenant() string           { return c.tenantID }
func (c *client) sendChannel() chan []byte { return c.send }

func (c *client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of the patterns. Same-origin requests are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.originPatterns = append(h.originPatterns, patterns...)
	}
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[subscriber]struct{}),
		broadcast:  make(chan notify.Record, sendBuffer),
		register:   make(chan subscriber),
		unregister: make(chan subscriber),
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "tenant", c.tenant(), "total", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.sendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "total", count)

		case rec := <-h.broadcast:
			data, err := json.Marshal(rec)
			if err != nil {
				h.logger.Error("failed to marshal websocket event", "event_id", rec.ID, "error", err)
				continue
			}

			// full Lock: slow clients are removed in the default branch
			h.mu.Lock()
			for c := range h.clients {
				if t := c.tenant(); t != "" && t != rec.TenantID {
					continue
				}
				select {
				case c.sendChannel() <- data:
				default:
					h.logger.Warn("websocket client too slow, disconnecting", "tenant", c.tenant())
					close(c.sendChannel())
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and closes every client.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for c := range h.clients {
		close(c.sendChannel())
		c.close()
	}
	h.clients = make(map[subscriber]struct{})
	h.mu.Unlock()
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle queues e for delivery. It satisfies events.Handler.
func (h *Hub) Handle(e events.Event) error {
	h.Broadcast(notify.NewRecord(e))
	return nil
}

// Broadcast queues rec for delivery. When the queue is full the record is
// dropped for WebSocket clients only.
func (h *Hub) Broadcast(rec notify.Record) {
	select {
	case h.broadcast <- rec:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event", "event_id", rec.ID, "type", rec.Type)
	}
}

func (h *Hub) add(c subscriber) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		close(c.sendChannel())
		c.close()
	}
}

func (h *Hub) remove(c subscriber) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		tenantID: r.URL.Query().Get("tenant"),
	}
	h.add(c)

	go c.writePump()
	c.readPump()
}

// writePump sends queued events to the connection.
func (c *client) writePump() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			c.hub.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// readPump drains client messages to detect disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil {
			return
		}
	}
}
