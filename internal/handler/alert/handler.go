package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	"github.com/zhouzirui/alertcast/backend/internal/model/session"
	"github.com/zhouzirui/alertcast/backend/internal/observability/metrics"
	sessionservice "github.com/zhouzirui/alertcast/backend/internal/service/session"
	"github.com/zhouzirui/alertcast/backend/pkg/utils"
)

const maxBodyBytes = 64 << 10

// Service is the alert path the handler drives.
type Service interface {
	List(ctx context.Context) []alert.Alert
	Submit(ctx context.Context, sub alert.Submission) (alert.Alert, error)
}

// Handler 告警接口的HTTP处理器
type Handler struct {
	alerts Service
	log    zerolog.Logger
}

// New 创建告警处理器
func New(alerts Service, logger zerolog.Logger) *Handler {
	return &Handler{
		alerts: alerts,
		log:    logger.With().Str("component", "alert-api").Logger(),
	}
}

// RegisterRoutes 注册告警相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/send_alert", h.handleSendAlert)
	r.Get("/api/alerts", h.handleListAlerts)
}

type sendResponse struct {
	Status string      `json:"status"`
	Alert  alert.Alert `json:"alert"`
}

// handleSendAlert 管理员提交告警，存储后推送给所有实时客户端
func (h *Handler) handleSendAlert(w http.ResponseWriter, r *http.Request) {
	if sessionservice.RoleFromContext(r.Context()) != session.RoleAdmin {
		metrics.IncAlertSubmission(metrics.ResultDenied)
		utils.RespondStatusError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	sub, err := decodeSubmission(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.IncAlertSubmission(metrics.ResultError)
		utils.RespondStatusError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.alerts.Submit(r.Context(), sub)
	if err != nil {
		metrics.IncAlertSubmission(metrics.ResultError)
		h.log.Error().Err(err).Msg("submit alert failed")
		utils.RespondStatusError(w, http.StatusInternalServerError, "could not store alert")
		return
	}

	metrics.IncAlertSubmission(metrics.ResultSuccess)
	utils.RespondJSON(w, http.StatusOK, sendResponse{Status: "ok", Alert: created})
}

// handleListAlerts 返回全部告警，最新的在前
func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionservice.FromContext(r.Context()); !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"alerts": h.alerts.List(r.Context()),
	})
}

// decodeSubmission accepts an empty body as "all defaults".
func decodeSubmission(body io.Reader) (alert.Submission, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return alert.Submission{}, err
	}

	var sub alert.Submission
	if len(bytes.TrimSpace(raw)) == 0 {
		return sub, nil
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return alert.Submission{}, err
	}
	return sub, nil
}
