package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/util"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps every record in process memory. It is used by tests and
// as the job and fire backend underneath FileStore.
type InMemoryStore struct {
	mu       sync.Mutex
	progress map[string][]string
	results  []models.FlowResult
	fires    map[string]time.Time
	jobs     map[string]*Job
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		progress: make(map[string][]string),
		fires:    make(map[string]time.Time),
		jobs:     make(map[string]*Job),
	}
}

func (s *InMemoryStore) RegisterUser(userID string) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.progress[userID]; !ok {
		s.progress[userID] = []string{}
	}
	return nil
}

func (s *InMemoryStore) GetProgress(userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.progress[userID]...), nil
}

func (s *InMemoryStore) AppendProgress(userID string, texts []string) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	have := s.progress[userID]
	s.progress[userID] = append(append([]string{}, have...), dedupTexts(have, texts)...)
	return nil
}

func (s *InMemoryStore) ListUsers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.progress))
	for u := range s.progress {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (s *InMemoryStore) AppendResult(r models.FlowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Interactions = append([]models.Interaction(nil), r.Interactions...)
	s.results = append(s.results, r)
	return nil
}

func (s *InMemoryStore) ListResults(userID string) ([]models.FlowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlowResult
	for _, r := range s.results {
		if userID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ClaimFire(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fires[key]; ok {
		return false, nil
	}
	s.fires[key] = time.Now()
	return true, nil
}

// snapshot returns copies of the records FileStore persists.
func (s *InMemoryStore) snapshot() (map[string][]string, []models.FlowResult, map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress := make(map[string][]string, len(s.progress))
	for k, v := range s.progress {
		progress[k] = append([]string{}, v...)
	}
	fires := make(map[string]time.Time, len(s.fires))
	for k, v := range s.fires {
		fires[k] = v
	}
	return progress, append([]models.FlowResult{}, s.results...), fires
}

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && !j.Status.IsTerminal() {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := &Job{
		ID:          util.GenerateJobID(),
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: DefaultMaxAttempts,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		locked := now
		j.Status = JobStatusRunning
		j.LockedAt = &locked
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	return s.updateJob(id, func(j *Job) { j.Status = JobStatusDone })
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	return s.updateJob(id, func(j *Job) {
		j.Attempt++
		j.LastError = errMsg
		j.LockedAt = nil
		if j.Attempt >= j.MaxAttempts {
			j.Status = JobStatusFailed
			return
		}
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	})
}

func (s *InMemoryStore) RequeueStaleJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *InMemoryStore) updateJob(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	fn(j)
	j.UpdatedAt = time.Now()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
