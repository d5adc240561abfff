package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/alertcast/backend/internal/model/session"
)

// CookieName is the name of the session cookie.
const CookieName = "alertcast_session"

var (
	ErrEmptySecret  = errors.New("session: empty secret")
	ErrInvalidToken = errors.New("session: invalid token")
)

// Claims is the signed payload of the session cookie.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Config tunes the Manager.
type Config struct {
	Secret       []byte
	TTL          time.Duration
	CookieSecure bool
}

// Manager opens, resolves and closes browser sessions.
// The cookie only carries a signed reference; the Store decides whether it is still live.
type Manager struct {
	store  session.Store
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
	log    zerolog.Logger
}

// NewManager builds a Manager over store.
func NewManager(store session.Store, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrEmptySecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{
		store:  store,
		secret: append([]byte(nil), cfg.Secret...),
		ttl:    ttl,
		secure: cfg.CookieSecure,
		now:    time.Now,
		log:    logger.With().Str("component", "session").Logger(),
	}, nil
}

// Open creates a session for role and sets its cookie on w.
func (m *Manager) Open(ctx context.Context, w http.ResponseWriter, role session.Role) (session.Session, error) {
	now := m.now().UTC()
	s := session.Session{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	token, err := m.sign(s)
	if err != nil {
		return session.Session{}, err
	}
	if err := m.store.Create(ctx, s); err != nil {
		return session.Session{}, fmt.Errorf("store session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	m.log.Debug().Str("session", s.ID).Str("role", string(role)).Msg("session opened")
	return s, nil
}

// Resolve returns the live session referenced by the request cookie.
func (m *Manager) Resolve(r *http.Request) (session.Session, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return session.Session{}, false
	}

	claims, err := m.parse(cookie.Value)
	if err != nil {
		m.log.Debug().Err(err).Msg("rejecting session cookie")
		return session.Session{}, false
	}

	s, err := m.store.Get(r.Context(), claims.ID)
	if err != nil {
		return session.Session{}, false
	}
	if string(s.Role) != claims.Role {
		return session.Session{}, false
	}
	return s, true
}

// Close drops the current session, if any, and always clears the cookie.
func (m *Manager) Close(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if claims, err := m.parse(cookie.Value); err == nil {
			if err := m.store.Delete(ctx, claims.ID); err != nil {
				m.log.Warn().Err(err).Str("session", claims.ID).Msg("delete session failed")
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware attaches the resolved session, if any, to the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := m.Resolve(r); ok {
			r = r.WithContext(WithSession(r.Context(), s))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) sign(s session.Session) (string, error) {
	claims := Claims{
		Role: string(s.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

func (m *Manager) parse(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if _, ok := session.ParseRole(claims.Role); !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
