package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"lms-gateway/pkg/config"
)

// minBcryptCost rejects hashes generated for tests or by mistake.
const minBcryptCost = 10

// User is a directory entry.
type User struct {
	ID           string
	Role         string
	PasswordHash []byte
}

// Directory verifies credentials.
type Directory interface {
	// Verify returns the user for username if password matches.
	Verify(ctx context.Context, username, password string) (User, error)
}

// StaticDirectory is a fixed set of bcrypt-hashed users.
type StaticDirectory struct {
	users map[string]User
	// dummy keeps the cost of a miss equal to the cost of a hit.
	dummy []byte
}

// NewStaticDirectory builds a directory from users. User IDs are matched
// case-insensitively.
func NewStaticDirectory(users ...User) (*StaticDirectory, error) {
	d := &StaticDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		if u.ID == "" {
			return nil, fmt.Errorf("directory: empty user id")
		}
		if u.Role != RoleAdmin && u.Role != RoleViewer {
			return nil, fmt.Errorf("directory: user %s: unknown role %q", u.ID, u.Role)
		}
		cost, err := bcrypt.Cost(u.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("directory: user %s: %w", u.ID, err)
		}
		if cost < minBcryptCost {
			return nil, fmt.Errorf("directory: user %s: bcrypt cost %d below %d", u.ID, cost, minBcryptCost)
		}
		d.users[strings.ToLower(u.ID)] = u
		if d.dummy == nil {
			d.dummy = u.PasswordHash
		}
	}
	return d, nil
}

// LoadEnvDirectory reads ADMIN_USER/ADMIN_PASSWORD_HASH and the optional
// VIEWER_USER/VIEWER_PASSWORD_HASH.
func LoadEnvDirectory() (*StaticDirectory, error) {
	admin := config.GetEnvString("ADMIN_USER", "")
	if admin == "" {
		return nil, fmt.Errorf("ADMIN_USER must not be empty")
	}
	users := []User{{
		ID:           admin,
		Role:         RoleAdmin,
		PasswordHash: []byte(config.GetEnvString("ADMIN_PASSWORD_HASH", "")),
	}}
	if viewer := config.GetEnvString("VIEWER_USER", ""); viewer != "" {
		users = append(users, User{
			ID:           viewer,
			Role:         RoleViewer,
			PasswordHash: []byte(config.GetEnvString("VIEWER_PASSWORD_HASH", "")),
		})
	}
	return NewStaticDirectory(users...)
}

func (d *StaticDirectory) Verify(_ context.Context, username, password string) (User, error) {
	u, ok := d.users[strings.ToLower(strings.TrimSpace(username))]
	hash := u.PasswordHash
	if !ok {
		hash = d.dummy
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if !ok || err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}
