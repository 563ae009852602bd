package session

import (
	"context"
	"time"
)

// Store owns the mapping from session id to session record. Implementations
// must be safe for concurrent use and make every operation linearizable with
// respect to the others.
type Store interface {
	// Create inserts a new pending session built from p and returns it.
	Create(ctx context.Context, p Payload) (Session, error)

	// Get returns a snapshot of the session, or ErrNotFound when the id is
	// unknown, expired or evicted.
	Get(ctx context.Context, id string) (Session, error)

	// SetStatus unconditionally writes status and LastTransitionAt.
	SetStatus(ctx context.Context, id string, status Status) error

	// Transition moves the session to `to` if its current status is one of
	// `from`. It is a no-op success when the session already has status `to`
	// and fails with ErrInvalidTransition otherwise.
	Transition(ctx context.Context, id string, to Status, from ...Status) (Session, error)

	// Evict removes every session created more than ttl before now and
	// returns the removed sessions with status StatusExpired.
	Evict(ctx context.Context, now time.Time, ttl time.Duration) ([]Session, error)

	// Stats summarizes the visible sessions.
	Stats(ctx context.Context) (Stats, error)

	// Close releases backend resources.
	Close() error
}

type storeOptions struct {
	ttl time.Duration
	now func() time.Time
	ids IDGenerator
}

// Option configures a Store implementation.
type Option func(*storeOptions)

// WithTTL hides sessions older than ttl from readers even before the next
// eviction sweep. Zero disables lazy expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets the id source. Defaults to UUIDGenerator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *storeOptions) {
		if g != nil {
			o.ids = g
		}
	}
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{
		now: time.Now,
		ids: UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// expired reports whether s must be hidden from readers at now.
func (o storeOptions) expired(s *Session, now time.Time) bool {
	if s.Status == StatusExpired {
		return true
	}
	return o.ttl > 0 && s.Age(now) > o.ttl
}
