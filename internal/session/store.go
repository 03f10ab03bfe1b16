package session

import (
	"sync"
	"time"
)

// SessionStore is a thread-safe in-memory session registry with TTL
// eviction. Sessions hold the fetched tree in memory, so stale ones must not
// accumulate.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (s *SessionStore) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *SessionStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// Cleanup removes sessions idle longer than the TTL.
func (s *SessionStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.UpdatedAt) > s.ttl
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
		}
	}
}
