package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/metrics"
)

// EvictorConfig holds eviction tuning parameters.
type EvictorConfig struct {
	TTL      time.Duration // sessions older than this are removed
	Interval time.Duration // time between sweeps
}

// DefaultEvictorConfig returns the default TTL and sweep interval.
func DefaultEvictorConfig() EvictorConfig {
	return EvictorConfig{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	}
}

// EvictFunc receives the sessions removed by a sweep. It runs outside any
// store lock.
type EvictFunc func(ctx context.Context, evicted []Session)

// Evictor periodically removes expired sessions from a Store. It is started
// explicitly by the process entry point and stopped on shutdown.
type Evictor struct {
	store   Store
	config  EvictorConfig
	log     zerolog.Logger
	onEvict EvictFunc
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEvictor creates an Evictor. onEvict may be nil.
func NewEvictor(store Store, config EvictorConfig, log zerolog.Logger, onEvict EvictFunc) *Evictor {
	if config.Interval <= 0 {
		config.Interval = DefaultEvictorConfig().Interval
	}
	return &Evictor{
		store:   store,
		config:  config,
		log:     log.With().Str("component", "evictor").Logger(),
		onEvict: onEvict,
		now:     time.Now,
	}
}

// Start launches the sweep loop in a background goroutine. Calling Start on
// a running evictor does nothing.
func (e *Evictor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done != nil {
		return
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		e.Run(ctx)
	}(e.done)
}

// Stop cancels the sweep loop and waits for an in-flight sweep to finish.
func (e *Evictor) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run sweeps on every tick until ctx is cancelled. A sweep that has started
// always runs to completion.
func (e *Evictor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.log.Info().
		Dur("ttl", e.config.TTL).
		Dur("interval", e.config.Interval).
		Msg("eviction loop started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("eviction loop stopped")
			return
		case <-ticker.C:
			_, _ = e.Sweep(context.WithoutCancel(ctx))
		}
	}
}

// Sweep runs a single eviction pass and returns the number of removed
// sessions. Panics raised by the store or the callback are recovered and
// reported as errors.
func (e *Evictor) Sweep(ctx context.Context) (n int, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session: eviction panic: %v", r)
		}
		metrics.EvictionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.EvictionFailures.Inc()
			e.log.Error().Err(err).Msg("eviction sweep failed")
		}
	}()

	evicted, err := e.store.Evict(ctx, e.now(), e.config.TTL)
	if err != nil {
		return 0, err
	}
	if len(evicted) == 0 {
		return 0, nil
	}

	metrics.SessionsEvicted.Add(float64(len(evicted)))
	e.log.Debug().Int("removed", len(evicted)).Msg("evicted expired sessions")

	if e.onEvict != nil {
		e.onEvict(ctx, evicted)
	}
	return len(evicted), nil
}
