// Package auth issues and verifies gateway tokens and tracks sessions,
// refresh-token rotation and login lockout in the token cache.
package auth

import (
	"context"
	"time"
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	Role      string
	SessionID string
	TokenID   string
	ExpiresAt time.Time
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
