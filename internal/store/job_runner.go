package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner defaults.
const (
	DefaultJobPollInterval   = 10 * time.Second
	DefaultJobStaleThreshold = 5 * time.Minute
	DefaultJobClaimLimit     = 10

	retryBase = 30 * time.Second
	retryCap  = time.Hour
)

// JobHandler executes one claimed job. A non-nil error schedules a retry.
type JobHandler func(ctx context.Context, job Job) error

// RunnerOption configures a JobRunner.
type RunnerOption func(*JobRunner)

// WithPollInterval sets how often the runner claims due jobs.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *JobRunner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithStaleThreshold sets how long a job may stay running before
// RecoverStaleJobs requeues it.
func WithStaleThreshold(d time.Duration) RunnerOption {
	return func(r *JobRunner) {
		if d > 0 {
			r.staleThreshold = d
		}
	}
}

// WithClaimLimit caps the jobs claimed per poll.
func WithClaimLimit(n int) RunnerOption {
	return func(r *JobRunner) {
		if n > 0 {
			r.claimLimit = n
		}
	}
}

// JobRunner polls a JobRepo and executes due jobs with the handler
// registered for their kind.
type JobRunner struct {
	repo     JobRepo
	mu       sync.RWMutex
	handlers map[string]JobHandler

	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
}

// NewJobRunner creates a runner over repo.
func NewJobRunner(repo JobRepo, opts ...RunnerOption) *JobRunner {
	r := &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		pollInterval:   DefaultJobPollInterval,
		staleThreshold: DefaultJobStaleThreshold,
		claimLimit:     DefaultJobClaimLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterHandler binds handler to kind, replacing any earlier binding.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	r.handlers[kind] = handler
	r.mu.Unlock()
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

func (r *JobRunner) handler(kind string) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// RecoverStaleJobs requeues jobs left running by a previous process.
func (r *JobRunner) RecoverStaleJobs() error {
	n, err := r.repo.RequeueStaleJobs(time.Now().Add(-r.staleThreshold))
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: started", "pollInterval", r.pollInterval)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims the jobs due now and executes them in order.
func (r *JobRunner) RunOnce(ctx context.Context) {
	now := time.Now()
	jobs, err := r.repo.ClaimDueJobs(now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.RunOnce: claim failed", "error", err)
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			// Claimed jobs stay running and come back through RecoverStaleJobs.
			return
		}
		r.execute(ctx, job, now)
	}
}

func (r *JobRunner) execute(ctx context.Context, job Job, now time.Time) {
	h, ok := r.handler(job.Kind)
	if !ok {
		slog.Warn("JobRunner.execute: no handler", "kind", job.Kind, "id", job.ID)
		r.fail(job, fmt.Errorf("no handler registered for kind %q", job.Kind), now.Add(time.Minute))
		return
	}

	slog.Debug("JobRunner.execute", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	if err := h(ctx, job); err != nil {
		slog.Error("JobRunner.execute: job failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
		r.fail(job, err, now.Add(RetryBackoff(job.Attempt)))
		return
	}
	if err := r.repo.CompleteJob(job.ID); err != nil {
		slog.Error("JobRunner.execute: complete failed", "id", job.ID, "error", err)
		return
	}
	slog.Debug("JobRunner.execute: done", "id", job.ID, "kind", job.Kind)
}

func (r *JobRunner) fail(job Job, cause error, nextRun time.Time) {
	if err := r.repo.FailJob(job.ID, cause.Error(), nextRun); err != nil {
		slog.Error("JobRunner.fail: update failed", "id", job.ID, "error", err)
	}
}

// RetryBackoff is the delay before the next try of a job that already failed
// attempt times. It doubles from 30s and is capped at one hour.
func RetryBackoff(attempt int) time.Duration {
	d := retryBase
	for i := 0; i < attempt && d < retryCap; i++ {
		d *= 2
	}
	if d > retryCap {
		return retryCap
	}
	return d
}
