package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/citidesk/pkg/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	clientBuffer = 32
)

// Hub streams ticket events to websocket clients. It is registered as a
// notification sink, so it only ever sees committed transitions.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	filters EventFilters
}

// EventFilters narrow what a client receives. Empty fields match everything.
type EventFilters struct {
	EventTypes []string `json:"event_types"`
	TicketID   int64    `json:"ticket_id"`
	UserID     int64    `json:"user_id"`
}

// WebSocketEvent represents the structure sent to clients.
type WebSocketEvent struct {
	Type      string        `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Data      *models.Event `json:"data,omitempty"`
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// HandleConnection upgrades the request. Initial filters may be given as
// ticket_id, user_id and type query parameters and replaced later by
// sending an EventFilters message.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, clientBuffer),
		filters: filtersFromQuery(r),
	}
	hello, _ := json.Marshal(WebSocketEvent{Type: "connection_established", Timestamp: time.Now().Unix()})
	c.send <- hello
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func filtersFromQuery(r *http.Request) EventFilters {
	q := r.URL.Query()
	f := EventFilters{EventTypes: q["type"]}
	f.TicketID, _ = strconv.ParseInt(q.Get("ticket_id"), 10, 64)
	f.UserID, _ = strconv.ParseInt(q.Get("user_id"), 10, 64)
	return f
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("websocket client connected", "clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Debug("websocket client disconnected", "clients", len(h.clients))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "websocket" }

// Notify fans ev out to every matching client. Clients whose buffer is
// full are disconnected.
func (h *Hub) Notify(_ context.Context, ev models.Event) error {
	msg, err := json.Marshal(WebSocketEvent{Type: string(ev.Kind), Timestamp: ev.Timestamp.Unix(), Data: &ev})
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client")
		h.unregister(c)
	}
	return nil
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) wants(ev models.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f := c.filters

	if len(f.EventTypes) > 0 {
		match := false
		for _, t := range f.EventTypes {
			if t == string(ev.Kind) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	// Queue-wide updates concern every ticket holder.
	if ev.Kind == models.EventQueueUpdated {
		return true
	}
	if f.TicketID != 0 && (ev.Ticket == nil || ev.Ticket.ID != f.TicketID) {
		return false
	}
	if f.UserID != 0 && (ev.Ticket == nil || ev.Ticket.UserID != f.UserID) {
		return false
	}
	return true
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f EventFilters
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		c.mu.Lock()
		c.filters = f
		c.mu.Unlock()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
