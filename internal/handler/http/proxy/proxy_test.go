package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lms-gateway/internal/handler/http/requestid"
	"lms-gateway/internal/observability/metrics"
	"lms-gateway/internal/observability/tracing"
	"lms-gateway/internal/service/auth"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type seen struct {
	Path    string      `json:"path"`
	Query   string      `json:"query"`
	Headers http.Header `json:"headers"`
}

func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(seen{Path: r.URL.Path, Query: r.URL.RawQuery, Headers: r.Header})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func forward(t *testing.T, p *Proxy, req *http.Request) (*httptest.ResponseRecorder, seen) {
	t.Helper()
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	var got seen
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	}
	return rec, got
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://lms", "/relative"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestProxy_ForwardsPathAndQuery(t *testing.T) {
	upstream := echoUpstream(t)
	p, err := New(upstream.URL + "/api")
	require.NoError(t, err)

	_, got := forward(t, p, httptest.NewRequest(http.MethodGet, "/v1/courses/42?page=2", nil))
	assert.Equal(t, "/api/v1/courses/42", got.Path)
	assert.Equal(t, "page=2", got.Query)
}

func TestProxy_IdentityHeaders(t *testing.T) {
	upstream := echoUpstream(t)
	p, err := New(upstream.URL)
	require.NoError(t, err)

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/courses", nil)
		req.Header.Set("Authorization", "Bearer gateway-token")
		req.Header.Set(HeaderUserID, "spoofed")
		ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: "user-123", Role: auth.RoleViewer})
		ctx = requestid.WithRequestID(ctx, "req-42")

		_, got := forward(t, p, req.WithContext(ctx))
		assert.Equal(t, "user-123", got.Headers.Get(HeaderUserID))
		assert.Equal(t, auth.RoleViewer, got.Headers.Get(HeaderRole))
		assert.Empty(t, got.Headers.Get("Authorization"))
		assert.Equal(t, "req-42", got.Headers.Get(requestid.Header))
		assert.NotEmpty(t, got.Headers.Get("X-Forwarded-For"))
	})

	t.Run("anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/courses", nil)
		req.Header.Set(HeaderUserID, "spoofed")
		req.Header.Set(HeaderRole, "admin")

		_, got := forward(t, p, req)
		assert.Empty(t, got.Headers.Get(HeaderUserID))
		assert.Empty(t, got.Headers.Get(HeaderRole))
	})
}

func TestProxy_PropagatesTraceContext(t *testing.T) {
	upstream := echoUpstream(t)
	p, err := New(upstream.URL)
	require.NoError(t, err)

	tp := tracing.NewProvider(tracing.Config{ServiceName: "proxy-test", SampleRatio: 1}, tracetest.NewInMemoryExporter())
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "inbound")
	defer span.End()

	_, got := forward(t, p, httptest.NewRequest(http.MethodGet, "/v1/x", nil).WithContext(ctx))
	traceparent := got.Headers.Get("Traceparent")
	require.NotEmpty(t, traceparent)
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())

}

func TestProxy_RecordsUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()
	p, err := New(upstream.URL)
	require.NoError(t, err)

	counter := metrics.UpstreamRequestsTotal.WithLabelValues("418")
	before := testutil.ToFloat64(counter)

	rec, _ := forward(t, p, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestProxy_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	p, err := New(url)
	require.NoError(t, err)

	counter := metrics.UpstreamRequestsTotal.WithLabelValues("error")
	before := testutil.ToFloat64(counter)

	rec, _ := forward(t, p, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, rec.Body.String())
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
