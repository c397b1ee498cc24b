package flow

import (
	"context"
	"log/slog"
	"time"
)

// Reaper defaults.
const (
	DefaultReapInterval   = 5 * time.Minute
	DefaultSessionTimeout = 60 * time.Minute
)

// ReaperOpts configures a Reaper.
type ReaperOpts struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ReaperOption modifies ReaperOpts.
type ReaperOption func(*ReaperOpts)

// WithReapInterval sets how often the reaper sweeps.
func WithReapInterval(d time.Duration) ReaperOption {
	return func(o *ReaperOpts) {
		o.Interval = d
	}
}

// WithSessionTimeout sets how long a session may stay idle before eviction.
func WithSessionTimeout(d time.Duration) ReaperOption {
	return func(o *ReaperOpts) {
		o.Timeout = d
	}
}

// Reaper evicts sessions that have been idle for longer than its timeout.
// Evicted users are not notified; their next message starts fresh.
type Reaper struct {
	sessions *SessionStore
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewReaper creates a reaper over sessions.
func NewReaper(sessions *SessionStore, opts ...ReaperOption) *Reaper {
	cfg := ReaperOpts{Interval: DefaultReapInterval, Timeout: DefaultSessionTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReapInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionTimeout
	}
	return &Reaper{sessions: sessions, interval: cfg.Interval, timeout: cfg.Timeout, now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("Reaper.Run: started", "interval", r.interval, "timeout", r.timeout)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Reaper.Run: stopped")
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Sweep evicts every session idle for longer than the timeout as of now and
// returns the evicted user ids. Dispatching sessions are left alone.
func (r *Reaper) Sweep(now time.Time) []string {
	evicted := r.sessions.evictIdle(now, r.timeout)
	for _, userID := range evicted {
		slog.Info("Reaper.Sweep: evicted idle session", "userID", userID, "timeout", r.timeout)
	}
	return evicted
}
