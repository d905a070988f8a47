package tokencache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key namespaces.
const (
	PrefixSession   = "session:"
	PrefixBlacklist = "blacklist:"
	PrefixRefresh   = "refresh:"
	PrefixAttempts  = "attempts:"
)

var (
	// ErrSessionNotFound is returned when a session is absent or expired.
	ErrSessionNotFound = errors.New("tokencache: session not found")

	// ErrInvalidTTL is returned for a zero or negative ttl.
	ErrInvalidTTL = errors.New("tokencache: ttl must be positive")
)

// Session is the state kept for a logged-in user.
type Session struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionCache implements the authentication cache operations on a TTLStore.
type SessionCache struct {
	store TTLStore
}

// NewSessionCache creates a SessionCache over store.
func NewSessionCache(store TTLStore) *SessionCache {
	return &SessionCache{store: store}
}

// HashToken returns the hex SHA-256 of a raw token. It is the only form in
// which tokens appear in cache keys.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// StoreSession saves s under sessionID for ttl.
func (c *SessionCache) StoreSession(ctx context.Context, sessionID string, s Session, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("StoreSession: marshal: %w", err)
	}
	if err := c.store.Set(ctx, PrefixSession+sessionID, data, ttl); err != nil {
		return fmt.Errorf("StoreSession: %w", err)
	}
	return nil
}

// GetSession returns the session under sessionID or ErrSessionNotFound.
func (c *SessionCache) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, found, err := c.store.Get(ctx, PrefixSession+sessionID)
	if err != nil {
		return nil, fmt.Errorf("GetSession: %w", err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("GetSession: unmarshal: %w", err)
	}
	return &s, nil
}

// DeleteSession removes the session under sessionID.
func (c *SessionCache) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.store.Delete(ctx, PrefixSession+sessionID); err != nil {
		return fmt.Errorf("DeleteSession: %w", err)
	}
	return nil
}

// BlacklistToken marks a token as revoked for ttl, normally the token's
// remaining lifetime. A non-positive ttl is a no-op: the token has already
// expired and needs no entry.
func (c *SessionCache) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.store.Set(ctx, PrefixBlacklist+HashToken(token), []byte("1"), ttl); err != nil {
		return fmt.Errorf("BlacklistToken: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether token has been revoked.
func (c *SessionCache) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	ok, err := c.store.Exists(ctx, PrefixBlacklist+HashToken(token))
	if err != nil {
		return false, fmt.Errorf("IsTokenBlacklisted: %w", err)
	}
	return ok, nil
}

// StoreRefreshToken maps a refresh token to userID for ttl.
func (c *SessionCache) StoreRefreshToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if err := c.store.Set(ctx, PrefixRefresh+HashToken(token), []byte(userID), ttl); err != nil {
		return fmt.Errorf("StoreRefreshToken: %w", err)
	}
	return nil
}

// GetRefreshTokenUser returns the user a refresh token was issued to.
func (c *SessionCache) GetRefreshTokenUser(ctx context.Context, token string) (string, bool, error) {
	data, found, err := c.store.Get(ctx, PrefixRefresh+HashToken(token))
	if err != nil {
		return "", false, fmt.Errorf("GetRefreshTokenUser: %w", err)
	}
	if !found {
		return "", false, nil
	}
	return string(data), true, nil
}

// RevokeRefreshToken removes a refresh token mapping.
func (c *SessionCache) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := c.store.Delete(ctx, PrefixRefresh+HashToken(token)); err != nil {
		return fmt.Errorf("RevokeRefreshToken: %w", err)
	}
	return nil
}

// IncrementLoginAttempts counts a failed login for identifier. The first
// failure starts a window of length window; later failures do not extend it.
func (c *SessionCache) IncrementLoginAttempts(ctx context.Context, identifier string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, ErrInvalidTTL
	}
	n, err := c.store.IncrWithTTL(ctx, attemptsKey(identifier), window)
	if err != nil {
		return 0, fmt.Errorf("IncrementLoginAttempts: %w", err)
	}
	return int(n), nil
}

// GetLoginAttempts returns the failed logins recorded for identifier in the
// current window.
func (c *SessionCache) GetLoginAttempts(ctx context.Context, identifier string) (int, error) {
	data, found, err := c.store.Get(ctx, attemptsKey(identifier))
	if err != nil {
		return 0, fmt.Errorf("GetLoginAttempts: %w", err)
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("GetLoginAttempts: corrupt counter: %w", err)
	}
	return n, nil
}

// ResetLoginAttempts clears the counter for identifier.
func (c *SessionCache) ResetLoginAttempts(ctx context.Context, identifier string) error {
	if err := c.store.Delete(ctx, attemptsKey(identifier)); err != nil {
		return fmt.Errorf("ResetLoginAttempts: %w", err)
	}
	return nil
}

func attemptsKey(identifier string) string {
	return PrefixAttempts + strings.ToLower(strings.TrimSpace(identifier))
}
