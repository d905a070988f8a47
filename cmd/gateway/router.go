package main

import (
	"log/slog"
	"net/http"
	"time"

	hhttp "lms-gateway/internal/handler/http"
	hauth "lms-gateway/internal/handler/http/auth"
	"lms-gateway/internal/handler/http/limits"
	"lms-gateway/internal/handler/http/middleware"
	"lms-gateway/internal/handler/http/requestid"
	"lms-gateway/internal/observability/tracing"
	authservice "lms-gateway/internal/service/auth"

	"github.com/go-chi/chi/v5"
)

// routes holds everything the router mounts.
type routes struct {
	Logger         *slog.Logger
	MaxBodyBytes   int64
	RequestTimeout time.Duration

	Auth      hauth.Service
	AuthHTTP  *hauth.Handler
	Limits    *limits.Handler
	RateLimit *middleware.RateLimiter

	Health  http.Handler
	Ready   http.Handler
	Metrics http.Handler

	// Upstream receives every other /v1 request. Nil answers 404.
	Upstream http.Handler
}

// newRouter builds the gateway's HTTP surface. Operational endpoints are
// never rate limited; the quota endpoint reads the caller's bucket without
// charging it.
func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(hhttp.Recover(rt.Logger))
	r.Use(tracing.Middleware)
	r.Use(hhttp.MetricsMiddleware)
	r.Use(hhttp.Logging(rt.Logger))

	r.Method(http.MethodGet, "/health", rt.Health)
	r.Method(http.MethodGet, "/ready", rt.Ready)
	r.Method(http.MethodGet, "/live", hhttp.LiveHandler{})
	r.Method(http.MethodGet, "/metrics", rt.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(hhttp.LimitRequestBody(rt.MaxBodyBytes))
		r.Use(hauth.Authenticate(rt.Auth))

		r.With(hhttp.Timeout(rt.RequestTimeout)).Get("/ratelimit/quota", rt.Limits.Quota)

		r.Group(func(r chi.Router) {
			r.Use(rt.RateLimit.Middleware)

			r.Group(func(r chi.Router) {
				r.Use(hhttp.Timeout(rt.RequestTimeout))

				r.Post("/auth/login", rt.AuthHTTP.Login)
				r.Post("/auth/refresh", rt.AuthHTTP.Refresh)
				r.Post("/auth/logout", rt.AuthHTTP.Logout)
				r.With(hauth.RequireAuth).Get("/me", rt.AuthHTTP.Me)

				r.Route("/admin/ratelimit", func(r chi.Router) {
					r.Use(hauth.RequireAuth)
					r.Use(hauth.RequireRole(authservice.RoleAdmin))

					r.Get("/limits", rt.Limits.ListLimits)
					r.Put("/limits/{key}", rt.Limits.SetLimit)
					r.Delete("/limits/{key}", rt.Limits.DeleteLimit)
					r.Get("/buckets/{key}", rt.Limits.GetBucket)
					r.Delete("/buckets/{key}", rt.Limits.ResetBucket)
				})
			})

			if rt.Upstream != nil {
				r.Handle("/*", rt.Upstream)
			}
		})
	})

	return r
}
