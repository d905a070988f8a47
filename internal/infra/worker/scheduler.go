// Package worker runs the gateway's periodic maintenance jobs on a cron
// schedule with per-job logging and metrics.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is one run of a maintenance job.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a cron.Cron. Each run gets its own timeout context, is
// recovered from panics and recorded in the job metrics.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	names   []string
}

// NewScheduler creates a Scheduler. A zero timeout leaves runs unbounded.
func NewScheduler(logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		timeout: timeout,
	}
}

// Add registers fn under name with a standard cron spec or a descriptor
// such as "@every 30s".
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if _, err := s.cron.AddFunc(spec, func() { s.Run(context.Background(), name, fn) }); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	s.names = append(s.names, name)
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.names...)
}

// Run executes fn once as job name. The scheduler calls it on every tick;
// it is exported so a job can be triggered outside its schedule.
func (s *Scheduler) Run(ctx context.Context, name string, fn JobFunc) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	status := statusSuccess
	defer func() {
		if rec := recover(); rec != nil {
			status = statusPanic
			s.logger.Error("job panicked",
				slog.String("job", name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
		}
		elapsed := time.Since(start)
		recordRun(name, status, elapsed.Seconds())
	}()

	if err := fn(ctx); err != nil {
		status = statusFailure
		s.logger.Warn("job failed",
			slog.String("job", name),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return
	}
	s.logger.Debug("job completed",
		slog.String("job", name),
		slog.Duration("duration", time.Since(start)))
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("maintenance jobs started", slog.Any("jobs", s.names))
	s.cron.Start()
}

// Stop stops the schedule. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
