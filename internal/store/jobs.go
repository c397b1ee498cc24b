package store

import "time"

// JobStatus is the lifecycle state of a durable job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal reports whether a job in status s will never run again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// DefaultMaxAttempts bounds how often a failing job is executed.
const DefaultMaxAttempts = 3

// Job is background work that must outlive a restart, such as folding a
// finished flow into the user's profile.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"run_at"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	DedupeKey   string     `json:"dedupe_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobRepo persists durable jobs.
//
// EnqueueJob with a non-empty dedupeKey returns the id of an existing
// non-terminal job carrying the same key instead of inserting a new one.
// FailJob counts the attempt and requeues the job at nextRunAt, or marks it
// failed once MaxAttempts is reached. RequeueStaleJobs returns running jobs
// locked before staleBefore to the queue; it is meant for startup after a crash.
type JobRepo interface {
	EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)
	ClaimDueJobs(now time.Time, limit int) ([]Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string, nextRunAt time.Time) error
	RequeueStaleJobs(staleBefore time.Time) (int, error)
	// GetJob returns nil without error for an unknown id.
	GetJob(id string) (*Job, error)
}
