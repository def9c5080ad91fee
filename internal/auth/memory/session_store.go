// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package memory provides an in-process session repository.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/umintramurals/campusauth/internal/auth"
)

// SessionStore implements auth.SessionRepository with a map keyed by token hash.
// Sessions do not survive a restart.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]auth.Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]auth.Session)}
}

// Create stores a new session.
func (s *SessionStore) Create(_ context.Context, session *auth.Session) error {
	if session == nil || session.TokenHash == "" {
		return oops.Code("SESSION_CREATE_FAILED").Errorf("session with token hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.TokenHash]; exists {
		return oops.Code("SESSION_CREATE_FAILED").Errorf("session token hash already exists")
	}
	s.sessions[session.TokenHash] = *session
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (s *SessionStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &session, nil
}

// DeleteByTokenHash removes a session.
func (s *SessionStore) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[tokenHash]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(s.sessions, tokenHash)
	return nil
}

// DeleteExpired removes every session expired at now.
func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, session := range s.sessions {
		if session.IsExpiredAt(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
