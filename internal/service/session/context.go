package session

import (
	"context"

	"github.com/zhouzirui/alertcast/backend/internal/model/session"
)

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached by Manager.Middleware.
func FromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(session.Session)
	return s, ok
}

// RoleFromContext returns the session role, or "" when there is no session.
func RoleFromContext(ctx context.Context) session.Role {
	s, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return s.Role
}
