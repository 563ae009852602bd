package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a process-local map guarded by a single
// RWMutex. All state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     storeOptions
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		opts:     applyOptions(opts),
	}
}

// Create stores a new pending session. It draws ids until one is not held by
// a live session.
func (m *MemoryStore) Create(_ context.Context, p Payload) (Session, error) {
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < maxIDAttempts; i++ {
		id := m.opts.ids.NewID()
		if _, taken := m.sessions[id]; taken {
			continue
		}

		s := &Session{
			ID:               id,
			Status:           StatusPending,
			CreatedAt:        now,
			LastTransitionAt: now,
			TargetURL:        p.TargetURL,
			Cookies:          slices.Clone(p.Cookies),
			Metadata:         cloneMetadata(p.Metadata),
		}
		m.sessions[id] = s
		return s.Clone(), nil
	}

	return Session{}, ErrIDExhausted
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	now := m.opts.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.lookup(id, now)
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

// SetStatus overwrites the status without checking the state machine.
func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(id, now)
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.LastTransitionAt = now
	return nil
}

// Transition performs a compare-and-set on the session status.
func (m *MemoryStore) Transition(_ context.Context, id string, to Status, from ...Status) (Session, error) {
	if !to.Valid() {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(id, now)
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Status == to {
		return s.Clone(), nil
	}
	if !slices.Contains(from, s.Status) {
		return s.Clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}

	s.Status = to
	s.LastTransitionAt = now
	return s.Clone(), nil
}

// Evict deletes sessions older than ttl as well as sessions already marked
// expired.
func (m *MemoryStore) Evict(_ context.Context, now time.Time, ttl time.Duration) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []Session
	for id, s := range m.sessions {
		if s.Status != StatusExpired && s.Age(now) <= ttl {
			continue
		}
		delete(m.sessions, id)

		gone := s.Clone()
		gone.Status = StatusExpired
		evicted = append(evicted, gone)
	}
	return evicted, nil
}

// Stats counts visible sessions by status.
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	now := m.opts.now()
	st := newStats()

	m.mu.RLock()
	for _, s := range m.sessions {
		if m.opts.expired(s, now) {
			continue
		}
		st.add(s)
	}
	m.mu.RUnlock()

	slices.Sort(st.PendingIDs)
	return st, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// lookup returns the live session for id. Callers must hold m.mu.
func (m *MemoryStore) lookup(id string, now time.Time) (*Session, bool) {
	s, ok := m.sessions[id]
	if !ok || m.opts.expired(s, now) {
		return nil, false
	}
	return s, true
}

func cloneMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
