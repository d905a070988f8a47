// Package auth exposes login, refresh, logout and identity endpoints and the
// middleware that turns bearer tokens into request principals.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lms-gateway/internal/handler/http/respond"
	"lms-gateway/internal/observability/logging"
	authservice "lms-gateway/internal/service/auth"
)

// Service is the part of *authservice.AuthService the handlers use.
type Service interface {
	Authenticator
	Login(ctx context.Context, req authservice.LoginRequest) (authservice.TokenPair, authservice.Principal, error)
	Refresh(ctx context.Context, refreshToken string) (authservice.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// Handler serves /v1/auth/* and /v1/me.
type Handler struct {
	svc      Service
	clientIP func(*http.Request) string
}

// NewHandler creates a Handler. clientIP resolves the address recorded in
// new sessions.
func NewHandler(svc Service, clientIP func(*http.Request) string) *Handler {
	if clientIP == nil {
		clientIP = func(r *http.Request) string { return r.RemoteAddr }
	}
	return &Handler{svc: svc, clientIP: clientIP}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

var errInvalidBody = errors.New("invalid request body")

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := logging.FromContext(r.Context())

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RecordAuthRequest("login", "failure", time.Since(start).Seconds())
		respond.SafeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	pair, p, err := h.svc.Login(r.Context(), authservice.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		IP:        h.clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		result := "failure"
		if errors.Is(err, authservice.ErrAccountLocked) {
			result = "locked"
		}
		RecordAuthRequest("login", result, time.Since(start).Seconds())
		logger.Warn("login failed",
			slog.String("reason", result),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		respond.Fail(w, http.StatusInternalServerError, translate(err))
		return
	}

	RecordAuthRequest("login", "success", time.Since(start).Seconds())
	logger.Info("login succeeded",
		slog.String("user_id", p.UserID),
		slog.String("role", p.Role),
		slog.String("session_id", p.SessionID),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	respond.JSON(w, http.StatusOK, pair)
}

// Refresh handles POST /v1/auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		RecordAuthRequest("refresh", "failure", time.Since(start).Seconds())
		respond.SafeError(w, http.StatusBadRequest, errors.New("refresh_token is required"))
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		RecordAuthRequest("refresh", "failure", time.Since(start).Seconds())
		respond.Fail(w, http.StatusInternalServerError, translate(err))
		return
	}

	RecordAuthRequest("refresh", "success", time.Since(start).Seconds())
	respond.JSON(w, http.StatusOK, pair)
}

// Logout handles POST /v1/auth/logout. The access token comes from the
// Authorization header; a refresh token in the body is revoked too.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	access, ok := BearerToken(r)
	if !ok {
		RecordAuthRequest("logout", "failure", time.Since(start).Seconds())
		w.Header().Set("WWW-Authenticate", `Bearer realm="lms-gateway"`)
		respond.Fail(w, http.StatusUnauthorized, respond.NewAppError(http.StatusUnauthorized, "authentication required", nil))
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RecordAuthRequest("logout", "failure", time.Since(start).Seconds())
			respond.SafeError(w, http.StatusBadRequest, errInvalidBody)
			return
		}
	}

	if err := h.svc.Logout(r.Context(), access, req.RefreshToken); err != nil {
		RecordAuthRequest("logout", "failure", time.Since(start).Seconds())
		respond.Fail(w, http.StatusInternalServerError, translate(err))
		return
	}

	RecordAuthRequest("logout", "success", time.Since(start).Seconds())
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /v1/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := authservice.PrincipalFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, respond.NewAppError(http.StatusUnauthorized, "authentication required", nil))
		return
	}
	respond.JSON(w, http.StatusOK, meResponse{
		UserID:    p.UserID,
		Role:      p.Role,
		SessionID: p.SessionID,
		ExpiresAt: p.ExpiresAt,
	})
}

// translate maps service errors to client responses. Anything unrecognised
// is a store fault.
func translate(err error) error {
	switch {
	case errors.Is(err, authservice.ErrInvalidCredentials):
		return respond.NewAppError(http.StatusUnauthorized, "invalid username or password", nil)
	case errors.Is(err, authservice.ErrAccountLocked):
		return respond.NewAppError(http.StatusTooManyRequests, "too many failed login attempts, try again later", nil)
	case errors.Is(err, authservice.ErrTokenRevoked):
		return respond.NewAppError(http.StatusUnauthorized, "token has been revoked", nil)
	case errors.Is(err, authservice.ErrInvalidToken):
		return respond.NewAppError(http.StatusUnauthorized, "invalid or expired token", nil)
	default:
		return respond.NewAppError(http.StatusServiceUnavailable, "authentication temporarily unavailable", err)
	}
}
