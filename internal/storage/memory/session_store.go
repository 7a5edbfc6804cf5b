// Package memory provides in-memory store implementations for local
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/socialscope/scrapewatch/internal/core"
)

// SessionStore is an in-memory core.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]core.Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]core.Session)}
}

// Create inserts a session row.
func (s *SessionStore) Create(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// Get retrieves a session by id.
func (s *SessionStore) Get(_ context.Context, id string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.Session{}, core.ErrNotFound
	}
	return sess, nil
}

// FindIdleBySubject returns the newest idle session for a subject.
func (s *SessionStore) FindIdleBySubject(_ context.Context, subject string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found core.Session
	var ok bool
	for _, sess := range s.sessions {
		if sess.SubjectName != subject || sess.Status != core.SessionIdle {
			continue
		}
		if !ok || sess.CreatedAt.After(found.CreatedAt) {
			found, ok = sess, true
		}
	}
	if !ok {
		return core.Session{}, core.ErrNotFound
	}
	return found, nil
}

// UpdateStatus performs the compare-and-set transition.
func (s *SessionStore) UpdateStatus(_ context.Context, id string, from, to core.SessionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrNotFound
	}
	if sess.Status != from {
		return core.ErrConflict
	}
	sess.Status = to
	sess.UpdatedAt = at
	s.sessions[id] = sess
	return nil
}
