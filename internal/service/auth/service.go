package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"lms-gateway/pkg/config"
	"lms-gateway/pkg/ratelimit"
	"lms-gateway/pkg/tokencache"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: too many failed login attempts")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenRevoked       = errors.New("auth: token revoked")
)

// LoginRequest carries credentials and the client context recorded in the
// session.
type LoginRequest struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
}

// AuthService handles login, refresh rotation, logout and token checks.
// It is framework-agnostic; the HTTP layer only translates errors.
type AuthService struct {
	dir      Directory
	tokens   *TokenManager
	sessions *tokencache.SessionCache
	clock    ratelimit.Clock

	maxAttempts   int
	lockoutWindow time.Duration
	refreshTTL    time.Duration
}

// NewAuthService wires the service from cfg.
func NewAuthService(cfg config.AuthConfig, dir Directory, sessions *tokencache.SessionCache, clock ratelimit.Clock) *AuthService {
	if clock == nil {
		clock = &ratelimit.SystemClock{}
	}
	return &AuthService{
		dir:           dir,
		tokens:        NewTokenManager(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, clock),
		sessions:      sessions,
		clock:         clock,
		maxAttempts:   cfg.MaxLoginAttempts,
		lockoutWindow: cfg.LockoutWindow,
		refreshTTL:    cfg.RefreshTTL,
	}
}

// Login verifies credentials and opens a session. An identifier with
// maxAttempts failures inside the lockout window is refused without checking
// the password.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (TokenPair, Principal, error) {
	identifier := strings.ToLower(strings.TrimSpace(req.Username))
	if identifier == "" || req.Password == "" {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}

	attempts, err := s.sessions.GetLoginAttempts(ctx, identifier)
	if err != nil {
		return TokenPair{}, Principal{}, fmt.Errorf("login attempts: %w", err)
	}
	if attempts >= s.maxAttempts {
		return TokenPair{}, Principal{}, ErrAccountLocked
	}

	user, err := s.dir.Verify(ctx, identifier, req.Password)
	if err != nil {
		n, incErr := s.sessions.IncrementLoginAttempts(ctx, identifier, s.lockoutWindow)
		if incErr != nil {
			slog.Warn("failed to record login attempt",
				slog.String("error", incErr.Error()))
		}
		if n >= s.maxAttempts {
			slog.Warn("login locked out",
				slog.String("user", identifier),
				slog.Int("attempts", n))
			return TokenPair{}, Principal{}, ErrAccountLocked
		}
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}

	if err := s.sessions.ResetLoginAttempts(ctx, identifier); err != nil {
		slog.Warn("failed to reset login attempts",
			slog.String("error", err.Error()))
	}

	sessionID := uuid.NewString()
	pair, err := s.tokens.Issue(user.ID, user.Role, sessionID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}

	session := tokencache.Session{
		UserID:    user.ID,
		Role:      user.Role,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		CreatedAt: s.clock.Now(),
	}
	if err := s.sessions.StoreSession(ctx, sessionID, session, s.refreshTTL); err != nil {
		return TokenPair{}, Principal{}, fmt.Errorf("store session: %w", err)
	}
	if err := s.sessions.StoreRefreshToken(ctx, pair.RefreshToken, user.ID, s.refreshTTL); err != nil {
		return TokenPair{}, Principal{}, fmt.Errorf("store refresh token: %w", err)
	}

	return pair, Principal{
		UserID:    user.ID,
		Role:      user.Role,
		SessionID: sessionID,
		ExpiresAt: pair.AccessExpiresAt,
	}, nil
}

// Refresh exchanges a refresh token for a new pair in the same session. The
// presented token is revoked and blacklisted for the rest of its lifetime, so
// each refresh token works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	revoked, err := s.sessions.IsTokenBlacklisted(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return TokenPair{}, ErrTokenRevoked
	}

	owner, found, err := s.sessions.GetRefreshTokenUser(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh lookup: %w", err)
	}
	if !found || owner != claims.Subject {
		return TokenPair{}, ErrTokenRevoked
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if errors.Is(err, tokencache.ErrSessionNotFound) {
		return TokenPair{}, ErrTokenRevoked
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("session lookup: %w", err)
	}

	if err := s.sessions.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if err := s.sessions.BlacklistToken(ctx, refreshToken, s.tokens.Remaining(claims)); err != nil {
		return TokenPair{}, fmt.Errorf("blacklist refresh token: %w", err)
	}

	pair, err := s.tokens.Issue(session.UserID, session.Role, claims.SessionID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.StoreRefreshToken(ctx, pair.RefreshToken, session.UserID, s.refreshTTL); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// Logout blacklists the access token, revokes refreshToken when given and
// drops the session.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.tokens.Parse(accessToken, TokenTypeAccess)
	if err != nil {
		return err
	}
	if err := s.sessions.BlacklistToken(ctx, accessToken, s.tokens.Remaining(claims)); err != nil {
		return fmt.Errorf("blacklist access token: %w", err)
	}

	if refreshToken != "" {
		if rc, err := s.tokens.Parse(refreshToken, TokenTypeRefresh); err == nil && rc.SessionID == claims.SessionID {
			if err := s.sessions.RevokeRefreshToken(ctx, refreshToken); err != nil {
				return fmt.Errorf("revoke refresh token: %w", err)
			}
			if err := s.sessions.BlacklistToken(ctx, refreshToken, s.tokens.Remaining(rc)); err != nil {
				return fmt.Errorf("blacklist refresh token: %w", err)
			}
		}
	}

	if err := s.sessions.DeleteSession(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Authenticate verifies an access token and checks that it is neither
// blacklisted nor detached from its session.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Parse(accessToken, TokenTypeAccess)
	if err != nil {
		return Principal{}, err
	}

	revoked, err := s.sessions.IsTokenBlacklisted(ctx, accessToken)
	if err != nil {
		return Principal{}, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return Principal{}, ErrTokenRevoked
	}

	if _, err := s.sessions.GetSession(ctx, claims.SessionID); err != nil {
		if errors.Is(err, tokencache.ErrSessionNotFound) {
			return Principal{}, ErrTokenRevoked
		}
		return Principal{}, fmt.Errorf("session lookup: %w", err)
	}

	return Principal{
		UserID:    claims.Subject,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
