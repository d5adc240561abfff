package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	"github.com/zhouzirui/alertcast/backend/internal/model/session"
	"github.com/zhouzirui/alertcast/backend/internal/observability/metrics"
	"github.com/zhouzirui/alertcast/backend/internal/service/auth"
	sessionservice "github.com/zhouzirui/alertcast/backend/internal/service/session"
)

// InvalidCredentialsMessage is shown when a login is rejected.
const InvalidCredentialsMessage = "Invalid credentials. Try admin/admin123 or user/user123."

//go:embed templates/*.html
var templateFS embed.FS

// AlertLister supplies the dashboards with alerts, most recent first.
type AlertLister interface {
	List(ctx context.Context) []alert.Alert
}

// Handler serves the login page and the role dashboards.
type Handler struct {
	verifier auth.Verifier
	sessions *sessionservice.Manager
	alerts   AlertLister
	pages    map[string]*template.Template
	log      zerolog.Logger
}

// New 创建页面处理器
func New(verifier auth.Verifier, sessions *sessionservice.Manager, alerts AlertLister, logger zerolog.Logger) (*Handler, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"login.html", "admin_dashboard.html", "user_dashboard.html"} {
		tpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, err
		}
		pages[name] = tpl
	}

	return &Handler{
		verifier: verifier,
		sessions: sessions,
		alerts:   alerts,
		pages:    pages,
		log:      logger.With().Str("component", "web").Logger(),
	}, nil
}

// RegisterRoutes 注册页面路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleLoginPage)
	r.Post("/", h.handleLogin)
	r.Get("/admin", h.requireRole(session.RoleAdmin, "admin_dashboard.html", "Admin dashboard"))
	r.Get("/user", h.requireRole(session.RoleUser, "user_dashboard.html", "Alerts"))
	r.Get("/logout", h.handleLogout)
}

type pageData struct {
	Title  string
	Error  string
	Alerts []alert.Alert
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login.html", pageData{Title: "Login"})
}

// handleLogin 校验表单凭证，成功后跳转到对应角色的面板
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, "login.html", pageData{Title: "Login", Error: "invalid form submission"})
		return
	}

	roleClaim := r.PostForm.Get("user_type")
	username := r.PostForm.Get("username")

	role, err := h.verifier.Verify(r.Context(), roleClaim, username, r.PostForm.Get("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Error().Err(err).Msg("credential check failed")
		}
		metrics.IncLoginAttempt(metrics.ResultDenied)
		h.log.Info().Str("user_type", roleClaim).Str("username", username).Msg("login rejected")
		h.render(w, http.StatusOK, "login.html", pageData{Title: "Login", Error: InvalidCredentialsMessage})
		return
	}

	if _, err := h.sessions.Open(r.Context(), w, role); err != nil {
		metrics.IncLoginAttempt(metrics.ResultError)
		h.log.Error().Err(err).Msg("open session failed")
		h.render(w, http.StatusInternalServerError, "login.html", pageData{Title: "Login", Error: "could not start session"})
		return
	}

	metrics.IncLoginAttempt(metrics.ResultSuccess)
	h.log.Info().Str("role", string(role)).Str("username", username).Msg("login accepted")
	http.Redirect(w, r, role.DashboardPath(), http.StatusFound)
}

// requireRole 只允许指定角色访问面板，否则跳回登录页
func (h *Handler) requireRole(role session.Role, page, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionservice.RoleFromContext(r.Context()) != role {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		h.render(w, http.StatusOK, page, pageData{Title: title, Alerts: h.alerts.List(r.Context())})
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Close(r.Context(), w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) render(w http.ResponseWriter, status int, page string, data pageData) {
	tpl, ok := h.pages[page]
	if !ok {
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := tpl.ExecuteTemplate(w, page, data); err != nil {
		h.log.Error().Err(err).Str("page", page).Msg("render failed")
	}
}
