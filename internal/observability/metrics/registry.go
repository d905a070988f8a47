package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream proxy metrics.
var (
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Requests forwarded upstream by response status",
		},
		[]string{"status"},
	)

	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Upstream round trip time",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Token cache metrics.
var (
	TokenCachePurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokencache_purged_total",
			Help: "Expired token cache entries removed by the purge job",
		},
	)

	TokenCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokencache_entries",
			Help: "Entries held by the in-memory token cache",
		},
	)
)

// Database pool metrics, refreshed by a scheduled job.
var (
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Idle database connections",
		},
	)

	DBWaitDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_wait_duration_seconds_total",
			Help: "Cumulative time spent waiting for a database connection",
		},
	)
)

// RecordUpstream records one proxied request. status 0 means the upstream
// could not be reached.
func RecordUpstream(status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequestsTotal.WithLabelValues(label).Inc()
	UpstreamDuration.Observe(d.Seconds())
}

// RecordTokenCachePurge records a purge pass that removed purged entries and
// left remaining.
func RecordTokenCachePurge(purged, remaining int) {
	TokenCachePurgedTotal.Add(float64(purged))
	TokenCacheEntries.Set(float64(remaining))
}

// RecordDBStats copies pool statistics into the gauges.
func RecordDBStats(s sql.DBStats) {
	DBConnectionsInUse.Set(float64(s.InUse))
	DBConnectionsIdle.Set(float64(s.Idle))
	DBWaitDuration.Set(s.WaitDuration.Seconds())
}

// Handler serves the default registry merged with extra gatherers.
func Handler(extra ...prometheus.Gatherer) http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	gatherers = append(gatherers, extra...)
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
