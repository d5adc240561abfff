package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/zhouzirui/alertcast/backend/internal/model/session"
)

// ErrInvalidCredentials is returned for any rejected login. It never says which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Verifier resolves a (role claim, username, password) triple to a role.
type Verifier interface {
	Verify(ctx context.Context, roleClaim, username, password string) (session.Role, error)
}

// Credential is one accepted login combination.
type Credential struct {
	Role     session.Role
	Username string
	Password string
}

// DefaultCredentials are the two built-in accounts.
func DefaultCredentials() []Credential {
	return []Credential{
		{Role: session.RoleAdmin, Username: "admin", Password: "admin123"},
		{Role: session.RoleUser, Username: "user", Password: "user123"},
	}
}

// StaticVerifier checks logins against a fixed credential list.
type StaticVerifier struct {
	credentials []Credential
}

// NewStaticVerifier returns a verifier accepting exactly creds.
func NewStaticVerifier(creds []Credential) *StaticVerifier {
	return &StaticVerifier{credentials: append([]Credential(nil), creds...)}
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(_ context.Context, roleClaim, username, password string) (session.Role, error) {
	role, ok := session.ParseRole(roleClaim)
	if !ok {
		return "", ErrInvalidCredentials
	}

	for _, c := range v.credentials {
		if c.Role != role {
			continue
		}
		userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) == 1
		if userOK && passOK {
			return role, nil
		}
	}
	return "", ErrInvalidCredentials
}
