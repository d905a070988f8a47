package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Maintenance job metrics, labelled by job name.
//
//   - gateway_job_runs_total: runs by job and status (success/failure/panic)
//   - gateway_job_duration_seconds: run duration by job
//   - gateway_job_last_success_timestamp: Unix time of the last successful run
var (
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_job_runs_total",
		Help: "Total number of maintenance job runs by job and status",
	}, []string{"job", "status"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_job_duration_seconds",
		Help:    "Duration of maintenance job runs in seconds",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"job"})

	JobLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_job_last_success_timestamp",
		Help: "Unix timestamp of the last successful maintenance job run",
	}, []string{"job"})
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
	statusPanic   = "panic"
)

func recordRun(job, status string, seconds float64) {
	JobRunsTotal.WithLabelValues(job, status).Inc()
	JobDurationSeconds.WithLabelValues(job).Observe(seconds)
	if status == statusSuccess {
		JobLastSuccessTimestamp.WithLabelValues(job).SetToCurrentTime()
	}
}
