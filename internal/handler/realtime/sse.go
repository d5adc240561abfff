package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	"github.com/zhouzirui/alertcast/backend/internal/service/broadcast"
	sessionservice "github.com/zhouzirui/alertcast/backend/internal/service/session"
	"github.com/zhouzirui/alertcast/backend/pkg/utils"
)

// handleEvents streams the realtime channel as Server-Sent Events for clients without WebSocket.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	client := h.hub.Register(sessionservice.RoleFromContext(r.Context()), "sse")
	if client == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer h.hub.Unregister(client)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, broadcast.EventConnected, broadcast.NewMessage(broadcast.EventConnected, map[string]any{
		"clientId":  client.ID,
		"timestamp": alert.FormatTimestamp(time.Now()),
	})); err != nil {
		return
	}

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-client.Messages():
			if !ok {
				return
			}
			if err := utils.SendSSERaw(w, flusher, eventType(payload), payload); err != nil {
				h.log.Debug().Err(err).Str("client", client.ID).Msg("sse write failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		}
	}
}

func eventType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}
