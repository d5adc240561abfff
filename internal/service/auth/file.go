package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/alertcast/backend/internal/model/session"
)

// UserRecord is one entry of the users file.
type UserRecord struct {
	Username     string `yaml:"username"`
	Role         string `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
}

type usersFile struct {
	Users []UserRecord `yaml:"users"`
}

type hashedUser struct {
	role session.Role
	hash []byte
}

// FileVerifier checks logins against bcrypt hashes loaded from a YAML users file:
//
//	users:
//	  - username: admin
//	    role: admin
//	    password_hash: $2a$12$...
type FileVerifier struct {
	users map[string]hashedUser
}

// LoadUsersFile opens path and parses it with ParseUsers.
func LoadUsersFile(path string) (*FileVerifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()

	return ParseUsers(f)
}

// ParseUsers builds a FileVerifier from YAML.
func ParseUsers(r io.Reader) (*FileVerifier, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc usersFile
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	users := make(map[string]hashedUser, len(doc.Users))
	for i, u := range doc.Users {
		username := strings.TrimSpace(u.Username)
		if username == "" {
			return nil, fmt.Errorf("users[%d]: username is required", i)
		}
		role, ok := session.ParseRole(strings.TrimSpace(u.Role))
		if !ok {
			return nil, fmt.Errorf("users[%d]: unknown role %q", i, u.Role)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("users[%d]: invalid password_hash: %w", i, err)
		}
		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("users[%d]: duplicate username %q", i, username)
		}
		users[username] = hashedUser{role: role, hash: []byte(u.PasswordHash)}
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("users file defines no users")
	}
	return &FileVerifier{users: users}, nil
}

// Verify implements Verifier.
func (v *FileVerifier) Verify(_ context.Context, roleClaim, username, password string) (session.Role, error) {
	role, ok := session.ParseRole(roleClaim)
	if !ok {
		return "", ErrInvalidCredentials
	}

	u, ok := v.users[username]
	if !ok || u.role != role {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return role, nil
}
