// Package flow runs per-user question flows: it owns the live sessions,
// advances them one answer at a time, hands finished flows to their
// completion handlers and drives the background reaper and daily trigger.
package flow

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// SessionStore holds at most one live session per user. Every read returns a
// copy, so callers never hold a reference into the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]models.Session)}
}

// Get returns a copy of the user's session.
func (s *SessionStore) Get(userID string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return models.Session{}, false
	}
	return sess.Clone(), true
}

// Put stores sess for its user, replacing any existing session.
func (s *SessionStore) Put(sess models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess.Clone()
}

// Remove deletes the user's session if there is one.
func (s *SessionStore) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// RemoveIf deletes the user's session only when it is still the session
// identified by sessionID. It reports whether a session was removed.
func (s *SessionStore) RemoveIf(userID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[userID]
	if !ok || cur.ID != sessionID {
		return false
	}
	delete(s.sessions, userID)
	return true
}

// Update applies fn to a copy of the user's session and stores the result if
// fn returns nil. The whole read-modify-write happens under the store lock.
// It returns models.ErrNoActiveSession when the user has no session.
func (s *SessionStore) Update(userID string, fn func(*models.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[userID]
	if !ok {
		return models.ErrNoActiveSession
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.sessions[userID] = next
	return nil
}

// Snapshot returns copies of all sessions ordered by user id.
func (s *SessionStore) Snapshot() []models.Session {
	s.mu.RLock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// evictIdle removes active sessions idle for longer than timeout and returns
// the affected user ids. Sessions without a last activity are stamped with now.
func (s *SessionStore) evictIdle(now time.Time, timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	for userID, sess := range s.sessions {
		if sess.Status == models.SessionStatusDispatching {
			continue
		}
		if sess.LastActivity.IsZero() {
			sess.LastActivity = now
			s.sessions[userID] = sess
			continue
		}
		if now.Sub(sess.LastActivity) > timeout {
			delete(s.sessions, userID)
			evicted = append(evicted, userID)
		}
	}
	sort.Strings(evicted)
	return evicted
}
