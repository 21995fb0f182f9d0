package selection

import (
	"sync"
	"time"
)

// Store keeps one Flow per client session in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	newFlow  func() *Flow
	ttl      time.Duration
	now      func() time.Time
}

type session struct {
	flow      *Flow
	updatedAt time.Time
}

// NewStore builds flows with newFlow on first use. Sessions untouched for
// ttl are dropped by Sweep.
func NewStore(newFlow func() *Flow, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*session),
		newFlow:  newFlow,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Flow returns the session's flow, creating it if needed.
func (s *Store) Flow(id string) *Flow {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{flow: s.newFlow()}
		s.sessions[id] = sess
	}
	sess.updatedAt = s.now()
	return sess.flow
}

// Get returns an existing flow without creating one.
func (s *Store) Get(id string) (*Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.flow, true
}

// Delete clears and forgets a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.flow.Clear()
	}
}

// Sweep drops idle sessions and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, sess := range s.sessions {
		if sess.updatedAt.Before(cutoff) && sess.flow.State() != Validating {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}
