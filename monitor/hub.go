// Package monitor is the optional HTTP sidecar: liveness and stats
// endpoints plus a websocket feed of orchestration events for
// visualization.
package monitor

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"hibikido/logger"
)

// Event is one orchestration observation pushed to websocket clients.
type Event struct {
	Type      string `json:"type"` // "manifest", "niche", "expiry"
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, payload any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to connected websocket clients. A client that cannot
// keep up is dropped.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
}

// NewHub creates a hub; call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			logger.Debug("monitor client connected", logger.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case raw := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- raw:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-h.done:
			for c := range h.clients {
				close(c.send)
			}
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() { close(h.done) }

// drop hands a disconnecting client back to Run. After Stop it returns
// immediately; Run is gone and nobody reads unregister.
func (h *Hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast pushes an event to every connected client. Never blocks; with
// no listeners the event is dropped.
func (h *Hub) Broadcast(event Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		logger.Warn("monitor event encode failed", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- raw:
	default:
	}
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for raw := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames; the feed is one-way. It exists to
// notice disconnects.
func (c *client) readLoop(h *Hub) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
