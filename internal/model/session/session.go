package session

import (
	"context"
	"errors"
	"time"
)

// Role tags what a logged-in browser may do.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole normalizes a raw role claim.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleUser:
		return RoleUser, true
	}
	return "", false
}

// DashboardPath is where a role lands after login.
func (r Role) DashboardPath() string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleUser:
		return "/user"
	}
	return "/"
}

var (
	ErrNotFound  = errors.New("session not found")
	ErrMissingID = errors.New("session id is required")
)

// Session captures a logged-in browser. Only the role is meaningful to handlers.
type Session struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store is the server-side session table.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}
