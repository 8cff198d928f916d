package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for unknown session ids.
var ErrNotFound = errors.New("session: not found")

// Store is the in-memory session registry. Sessions are pruned once they
// have been terminal for longer than the grace period, or once they exceed
// the maximum age regardless of state.
type Store struct {
	maxAge time.Duration
	grace  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore creates an empty store.
func NewStore(maxAge, grace time.Duration) *Store {
	return &Store{
		maxAge:   maxAge,
		grace:    grace,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// Add registers a session.
func (st *Store) Add(s *Session) {
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
}

// Get returns a session by id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove deletes a session and releases its resources.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	s := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Count returns the number of registered sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// StartPruning runs the pruner loop until ctx is cancelled or Stop is
// called. Intended to be launched as a goroutine at server start.
func (st *Store) StartPruning(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.stop:
			return
		case <-ticker.C:
			st.Prune(time.Now())
		}
	}
}

// Stop terminates the pruner loop.
func (st *Store) Stop() {
	st.stopOnce.Do(func() { close(st.stop) })
}

// Prune removes expired sessions and returns how many were removed.
func (st *Store) Prune(now time.Time) int {
	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		if st.expired(s, now) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		if !s.State().Terminal() {
			slog.Info("Cancelling overdue session", "session_id", s.ID,
				"age", now.Sub(s.CreatedAt).Round(time.Second))
			s.Cancel()
		}
		s.Close()
	}
	if len(expired) > 0 {
		slog.Info("Pruned sessions", "count", len(expired))
	}
	return len(expired)
}

func (st *Store) expired(s *Session, now time.Time) bool {
	if fin := s.FinishedAt(); !fin.IsZero() {
		return now.Sub(fin) > st.grace
	}
	return now.Sub(s.CreatedAt) > st.maxAge
}
