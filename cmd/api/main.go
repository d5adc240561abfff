package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/alertcast/backend/internal/config"
	"github.com/zhouzirui/alertcast/backend/internal/handler"
	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	"github.com/zhouzirui/alertcast/backend/internal/model/session"
	"github.com/zhouzirui/alertcast/backend/internal/observability/metrics"
	alertservice "github.com/zhouzirui/alertcast/backend/internal/service/alert"
	"github.com/zhouzirui/alertcast/backend/internal/service/auth"
	"github.com/zhouzirui/alertcast/backend/internal/service/broadcast"
	sessionservice "github.com/zhouzirui/alertcast/backend/internal/service/session"
)

const (
	serviceName          = "alertcast"
	sessionSweepInterval = time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.Log)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file loaded, continuing with system environment variables only")
	}

	store := alert.NewFileStore(cfg.Store.AlertFile, logger)
	if err := store.Init(); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize alert store")
	}

	metrics.Init(prometheus.DefaultRegisterer)

	verifier, err := newVerifier(cfg.Auth, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load credentials")
	}

	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		secret = randomSecret()
		logger.Warn().Msg("SESSION_SECRET not set, generated a per-process secret; sessions will not survive a restart")
	}
	sessionStore := session.NewMemoryStore()
	sessions, err := sessionservice.NewManager(sessionStore, sessionservice.Config{
		Secret:       secret,
		TTL:          cfg.Session.TTL,
		CookieSecure: cfg.Session.CookieSecure,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize sessions")
	}

	hub := broadcast.NewHub(cfg.Realtime.SendBuffer, logger)
	alerts := alertservice.NewService(store, hub, logger)

	router, err := handler.NewRouter(logger, verifier, sessions, alerts, hub, handler.Options{
		AllowedOrigins:         cfg.Server.AllowedOrigins,
		RequireRealtimeSession: cfg.Realtime.RequireSession,
		Metrics:                promhttp.Handler(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", srv.Addr).Str("alert_file", store.Path()).Msg("alertcast backend listening")
	if err := run(ctx, srv, hub, sessionStore); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}

// run serves until ctx is cancelled, then drains HTTP and disconnects realtime clients.
func run(ctx context.Context, srv *http.Server, hub *broadcast.Hub, sessions *session.MemoryStore) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessions.RunJanitor(gctx, sessionSweepInterval)
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websocket connections are not tracked by Shutdown.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version()).
		Logger()
}

func newVerifier(cfg config.AuthConfig, logger zerolog.Logger) (auth.Verifier, error) {
	if cfg.UsersFile == "" {
		logger.Warn().Msg("USERS_FILE not set, using built-in admin/user accounts")
		return auth.NewStaticVerifier(auth.DefaultCredentials()), nil
	}

	v, err := auth.LoadUsersFile(cfg.UsersFile)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("users_file", cfg.UsersFile).Msg("loaded credentials from users file")
	return v, nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(buf))
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	infoMap := map[string]string{}
	for _, s := range buildInfo.Settings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if sha == "" {
		return "devel"
	}
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}
	return sha
}
