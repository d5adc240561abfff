package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	alerthandler "github.com/zhouzirui/alertcast/backend/internal/handler/alert"
	"github.com/zhouzirui/alertcast/backend/internal/handler/realtime"
	"github.com/zhouzirui/alertcast/backend/internal/handler/web"
	middlewarePkg "github.com/zhouzirui/alertcast/backend/internal/middleware"
	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	alertservice "github.com/zhouzirui/alertcast/backend/internal/service/alert"
	"github.com/zhouzirui/alertcast/backend/internal/service/auth"
	"github.com/zhouzirui/alertcast/backend/internal/service/broadcast"
	sessionservice "github.com/zhouzirui/alertcast/backend/internal/service/session"
	"github.com/zhouzirui/alertcast/backend/pkg/utils"
)

// Options carries the router settings that come from configuration.
type Options struct {
	AllowedOrigins         []string
	RequireRealtimeSession bool
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(logger zerolog.Logger, verifier auth.Verifier, sessions *sessionservice.Manager, alerts *alertservice.Service, hub *broadcast.Hub, opts Options) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.SecureHeaders)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))
	r.Use(sessions.Middleware)

	webHandler, err := web.New(verifier, sessions, alerts, logger)
	if err != nil {
		return nil, err
	}
	webHandler.RegisterRoutes(r)

	alerthandler.New(alerts, logger).RegisterRoutes(r)

	realtime.New(hub, alerts, realtime.Config{
		RequireSession: opts.RequireRealtimeSession,
		AllowedOrigins: opts.AllowedOrigins,
	}, logger).RegisterRoutes(r)

	r.Get("/ping", handlePing)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	notFoundLog := logger.With().Str("component", "router").Logger()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		notFoundLog.Warn().Str("url", r.URL.RequestURI()).Msg("not found")
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	return r, nil
}

// handlePing is the unauthenticated liveness check.
func handlePing(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"pong": true,
		"time": alert.FormatTimestamp(time.Now()),
	})
}
