// Package memory provides an in-memory SessionStore satisfying the same
// contract as the SQLite store. It backs tests and ephemeral hosts where
// durable persistence is unavailable.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/msomdec/safewalk/internal/domain"
)

// SessionStore implements domain.SessionStore in memory.
type SessionStore struct {
	mu     sync.Mutex
	rec    *domain.SessionRecord
	active bool
}

// NewSessionStore creates an empty in-memory SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) Save(_ context.Context, rec domain.SessionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("%w: empty session id", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := rec
	s.rec = &r
	s.active = true
	return nil
}

func (s *SessionStore) Load(_ context.Context) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.rec == nil {
		return nil, nil
	}
	r := *s.rec
	return &r, nil
}

func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	s.active = false
	return nil
}
