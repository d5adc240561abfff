package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	"github.com/zhouzirui/alertcast/backend/internal/model/session"
	"github.com/zhouzirui/alertcast/backend/internal/observability/metrics"
)

// Event types on the realtime channel.
const (
	EventNewAlert     = "new_alert"
	EventConnected    = "connected"
	EventAlertHistory = "alert_history"
	EventError        = "error"
	EventPong         = "pong"
)

// Message is the envelope written to realtime clients.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage wraps data in an envelope stamped with the current time.
func NewMessage(eventType string, data any) Message {
	return Message{Type: eventType, Data: data, Timestamp: time.Now().Unix()}
}

// Client is one connected realtime subscriber.
type Client struct {
	ID        string
	Role      session.Role
	Transport string

	send chan []byte
}

// Messages yields encoded events for the client. It is closed on Unregister or Hub.Close.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Hub fans events out to every registered client.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	buffer  int
	log     zerolog.Logger
}

// NewHub returns a hub whose clients queue up to buffer messages each.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		buffer:  buffer,
		log:     logger.With().Str("component", "broadcast").Logger(),
	}
}

// Register adds a client. It returns nil once the hub is closed.
// No role check is applied; role is recorded for logging only.
func (h *Hub) Register(role session.Role, transport string) *Client {
	c := &Client{
		ID:        uuid.NewString(),
		Role:      role,
		Transport: transport,
		send:      make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeConnected(transport, 1)
	h.log.Info().Str("client", c.ID).Str("transport", transport).Str("role", string(role)).Int("clients", total).Msg("client connected")
	return c
}

// Unregister removes c and closes its queue. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeConnected(c.Transport, -1)
	h.log.Info().Str("client", c.ID).Str("transport", c.Transport).Int("clients", total).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish emits a new_alert event carrying a to every client.
func (h *Hub) Publish(a alert.Alert) {
	if err := h.Broadcast(EventNewAlert, a); err != nil {
		h.log.Error().Err(err).Int("alert", a.ID).Msg("broadcast alert failed")
	}
}

// Broadcast encodes one event and queues it for every client without blocking.
// A client whose queue is full misses the event.
func (h *Hub) Broadcast(eventType string, data any) error {
	payload, err := json.Marshal(NewMessage(eventType, data))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- payload:
			delivered++
		default:
			metrics.IncDropped()
			h.log.Warn().Str("client", c.ID).Str("event", eventType).Msg("client queue full, dropping event")
		}
	}

	metrics.IncBroadcast(eventType)
	h.log.Debug().Str("event", eventType).Int("delivered", delivered).Int("clients", len(h.clients)).Msg("event broadcast")
	return nil
}

// Close disconnects every client and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	for c := range clients {
		close(c.send)
	}
	h.mu.Unlock()

	for c := range clients {
		metrics.RealtimeConnected(c.Transport, -1)
	}
	h.log.Info().Int("clients", len(clients)).Msg("hub closed")
}
