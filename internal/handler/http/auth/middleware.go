package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"lms-gateway/internal/handler/http/respond"
	"lms-gateway/internal/observability/logging"
	authservice "lms-gateway/internal/service/auth"
)

// Authenticator verifies access tokens. *authservice.AuthService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (authservice.Principal, error)
}

type authErrKey struct{}

// Authenticate resolves the bearer token, if any, into a principal on the
// request context. It never rejects: a bad token leaves the request
// anonymous and the failure is remembered for RequireAuth, so rate limiting
// still sees every request.
func Authenticate(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			p, err := authn.Authenticate(ctx, token)
			if err != nil {
				reason := rejectionReason(err)
				RecordTokenRejection(reason)
				logging.FromContext(ctx).Info("bearer token rejected",
					slog.String("reason", reason),
					slog.String("error", respond.SanitizeError(err)))
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, authErrKey{}, err)))
				return
			}

			ctx = authservice.WithPrincipal(ctx, p)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(slog.String("user_id", p.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth answers 401 unless Authenticate stored a principal.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authservice.PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		msg := "authentication required"
		if err, _ := r.Context().Value(authErrKey{}).(error); err != nil {
			switch rejectionReason(err) {
			case "revoked":
				msg = "token has been revoked"
			case "invalid":
				msg = "invalid or expired token"
			default:
				respond.Fail(w, http.StatusServiceUnavailable,
					respond.NewAppError(http.StatusServiceUnavailable, "authentication temporarily unavailable", err))
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="lms-gateway"`)
		respond.Fail(w, http.StatusUnauthorized, respond.NewAppError(http.StatusUnauthorized, msg, nil))
	})
}

// RequireRole answers 403 when the principal's role is not in roles. It
// must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := authservice.PrincipalFromContext(r.Context())
			if !slices.Contains(roles, p.Role) {
				RecordForbiddenAttempt(p.Role, r.Method)
				logging.FromContext(r.Context()).Warn("forbidden",
					slog.String("role", p.Role),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				respond.Fail(w, http.StatusForbidden, respond.NewAppError(http.StatusForbidden, "forbidden", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, authservice.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, authservice.ErrInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}
