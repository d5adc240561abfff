package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	"github.com/zhouzirui/alertcast/backend/internal/service/broadcast"
	sessionservice "github.com/zhouzirui/alertcast/backend/internal/service/session"
	"github.com/zhouzirui/alertcast/backend/pkg/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sseKeepalive = 25 * time.Second
)

// AlertLister answers history requests from realtime clients.
type AlertLister interface {
	List(ctx context.Context) []alert.Alert
}

// Config tunes who may subscribe.
type Config struct {
	// RequireSession rejects subscribers without a logged-in session.
	RequireSession bool
	// AllowedOrigins limits WebSocket upgrades by Origin header; "*" or empty allows any.
	AllowedOrigins []string
}

// Handler serves the realtime channel over WebSocket and SSE.
type Handler struct {
	hub      *broadcast.Hub
	alerts   AlertLister
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New 创建实时推送处理器
func New(hub *broadcast.Hub, alerts AlertLister, cfg Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		alerts: alerts,
		cfg:    cfg,
		log:    logger.With().Str("component", "realtime").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// RegisterRoutes 注册实时推送路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/events", h.handleEvents)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if !h.cfg.RequireSession {
		return true
	}
	if _, ok := sessionservice.FromContext(r.Context()); ok {
		return true
	}
	utils.RespondError(w, http.StatusUnauthorized, "Not logged in")
	return false
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := h.hub.Register(sessionservice.RoleFromContext(r.Context()), "websocket")
	if client == nil {
		writeClose(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan []byte, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writeLoop(ctx, conn, client, replies)
	}()

	h.reply(ctx, replies, broadcast.EventConnected, map[string]any{
		"clientId":  client.ID,
		"timestamp": alert.FormatTimestamp(time.Now()),
	})

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug().Err(err).Str("client", client.ID).Msg("websocket read error")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ctx, replies, &msg)
	}

	cancel()
	<-writerDone
}

func (h *Handler) handleMessage(ctx context.Context, replies chan<- []byte, msg *inboundMessage) {
	switch msg.Type {
	case "history":
		h.reply(ctx, replies, broadcast.EventAlertHistory, h.alerts.List(ctx))
	case "ping":
		h.reply(ctx, replies, broadcast.EventPong, map[string]any{"time": alert.FormatTimestamp(time.Now())})
	default:
		h.reply(ctx, replies, broadcast.EventError, map[string]string{"message": "unsupported message type: " + msg.Type})
	}
}

// reply queues a direct response for the connection's writer.
func (h *Handler) reply(ctx context.Context, replies chan<- []byte, eventType string, data any) {
	payload, err := json.Marshal(broadcast.NewMessage(eventType, data))
	if err != nil {
		h.log.Error().Err(err).Str("event", eventType).Msg("encode reply failed")
		return
	}
	select {
	case replies <- payload:
	case <-ctx.Done():
	}
}

// writeLoop is the only goroutine writing to conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, client *broadcast.Client, replies <-chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(payload []byte) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debug().Err(err).Str("client", client.ID).Msg("websocket write failed")
			// Unblocks the read loop so the client is unregistered now.
			conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-client.Messages():
			if !ok {
				writeClose(conn, websocket.CloseGoingAway, "server shutting down")
				conn.Close()
				return
			}
			if !write(payload) {
				return
			}
		case payload := <-replies:
			if !write(payload) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Debug().Err(err).Str("client", client.ID).Msg("websocket ping failed")
				conn.Close()
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
