// Package proxy forwards requests the gateway does not serve itself to the
// LMS upstream.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"lms-gateway/internal/domain/entity"
	"lms-gateway/internal/handler/http/requestid"
	"lms-gateway/internal/handler/http/respond"
	"lms-gateway/internal/observability/logging"
	"lms-gateway/internal/observability/metrics"
	"lms-gateway/internal/observability/tracing"
	"lms-gateway/internal/service/auth"
)

// Identity headers set for authenticated callers. Inbound copies are always
// removed so clients cannot impersonate a user.
const (
	HeaderUserID = "X-Auth-User-Id"
	HeaderRole   = "X-Auth-Role"
)

// Option configures a Proxy.
type Option func(*Proxy)

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) {
		p.transport = rt
	}
}

// Proxy is an http.Handler that forwards to one upstream base URL.
type Proxy struct {
	target    *url.URL
	transport http.RoundTripper
	rp        *httputil.ReverseProxy
}

// New validates upstreamURL and builds a Proxy for it.
func New(upstreamURL string, opts ...Option) (*Proxy, error) {
	if err := entity.ValidateUpstreamURL(upstreamURL); err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse upstream: %w", err)
	}

	p := &Proxy{target: target, transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(p)
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		Transport:    instrumented{next: p.transport},
		ErrorHandler: p.handleError,
	}
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	ctx := pr.In.Context()
	pr.SetURL(p.target)
	pr.SetXForwarded()
	pr.Out.Host = p.target.Host

	// Gateway tokens mean nothing upstream.
	pr.Out.Header.Del("Authorization")
	pr.Out.Header.Del(HeaderUserID)
	pr.Out.Header.Del(HeaderRole)
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		pr.Out.Header.Set(HeaderUserID, principal.UserID)
		pr.Out.Header.Set(HeaderRole, principal.Role)
	}

	if id := requestid.FromContext(ctx); id != "" {
		pr.Out.Header.Set(requestid.Header, id)
	}
	tracing.Inject(ctx, pr.Out.Header)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// client went away
		w.WriteHeader(499)
		return
	}

	code, msg := http.StatusBadGateway, "upstream unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		code, msg = http.StatusGatewayTimeout, "upstream timeout"
	}
	logging.FromContext(r.Context()).Warn("upstream request failed",
		slog.String("upstream", p.target.Host),
		slog.String("path", r.URL.Path),
		slog.String("error", respond.SanitizeError(err)))
	respond.Fail(w, code, respond.NewAppError(code, msg, nil))
}

// instrumented records upstream status and latency.
type instrumented struct {
	next http.RoundTripper
}

func (t instrumented) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	metrics.RecordUpstream(status, time.Since(start))
	return resp, err
}
