package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexatel/voicedesk/internal/store"
)

const (
	// MaxCallTTL bounds how long an abandoned session survives before the
	// cleanup loop evicts it.
	MaxCallTTL = 4 * time.Hour
	// cleanupInterval is how often the cleanup loop runs.
	cleanupInterval = time.Minute
)

// MemoryStore is the single-process Store implementation backed by the
// generic TTL store. Read-modify-write updates run under the store lock.
type MemoryStore struct {
	sessions *store.TTLStore[string, *CallSession]
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		sessions: store.NewTTLStore[string, *CallSession](cleanupInterval),
	}
	s.sessions.SetOnEvict(func(id string, sess *CallSession) {
		slog.Warn("[Session] Evicted stale call session", "call_id", id, "state", sess.State)
	})
	return s
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, s *CallSession) (bool, error) {
	return m.sessions.SetIfAbsent(s.CallConnectionID, s, MaxCallTTL), nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, callConnectionID string) (*CallSession, bool, error) {
	s, ok := m.sessions.Get(callConnectionID)
	if !ok {
		return nil, false, nil
	}
	copy := *s
	return &copy, true, nil
}

// DecrementRetries implements Store.
func (m *MemoryStore) DecrementRetries(ctx context.Context, callConnectionID string) (int, bool, error) {
	remaining := 0
	ok := m.sessions.Update(callConnectionID, func(s *CallSession) *CallSession {
		if s.RetriesRemaining > 0 {
			s.RetriesRemaining--
		}
		remaining = s.RetriesRemaining
		return s
	})
	return remaining, ok, nil
}

// SetState implements Store.
func (m *MemoryStore) SetState(ctx context.Context, callConnectionID string, next State) (bool, error) {
	var transitionErr error
	ok := m.sessions.Update(callConnectionID, func(s *CallSession) *CallSession {
		if !s.State.CanTransitionTo(next) {
			transitionErr = ErrInvalidTransition
			return s
		}
		s.State = next
		return s
	})
	return ok, transitionErr
}

// Remove implements Store.
func (m *MemoryStore) Remove(ctx context.Context, callConnectionID string) error {
	m.sessions.Delete(callConnectionID)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.sessions.Len()
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() {
	m.sessions.Close()
}

var _ Store = (*MemoryStore)(nil)
