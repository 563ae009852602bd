// Package ratelimit provides fixed-window rate limiting. Counters live in
// Redis when several relay instances share traffic, or in process memory for
// a single instance.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/metrics"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Name   string        // metrics label
	Key    string        // key prefix (e.g. "rl:create:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleCreateSession allows 30 session creations per minute per client IP.
	RuleCreateSession = Rule{Name: "create_session", Key: "rl:create:", Limit: 30, Window: time.Minute}

	// RuleWatch allows 20 status-watch connections per minute per client IP.
	RuleWatch = Rule{Name: "watch", Key: "rl:watch:", Limit: 20, Window: time.Minute}
)

// Counter increments a windowed counter. The window starts on the first
// increment of a key; ttl is the time left in the current window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Limiter performs rate limiting checks against a Counter.
type Limiter struct {
	counter Counter
	log     zerolog.Logger
}

// NewLimiter creates a Limiter.
func NewLimiter(counter Counter, log zerolog.Logger) *Limiter {
	return &Limiter{counter: counter, log: log.With().Str("component", "ratelimit").Logger()}
}

// Allow counts one request for identifier under rule. Counter errors fail
// open: the request is allowed and the error returned for logging.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	key := rule.Key + identifier

	count, ttl, err := l.counter.Incr(ctx, key, rule.Window)
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("counter error, failing open")
		return Decision{Allowed: true, Remaining: rule.Limit}, err
	}

	if int(count) > rule.Limit {
		metrics.RateLimited.WithLabelValues(rule.Name).Inc()
		if ttl <= 0 {
			ttl = rule.Window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: rule.Limit - int(count)}, nil
}
