package ws

import (
	"context"
	"sync"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/metrics"
	"github.com/handoff/relay/internal/protocol"
	"github.com/handoff/relay/internal/relay"
	"github.com/handoff/relay/internal/session"
)

// Hub is a registry of watchers keyed by session id. It implements
// relay.Notifier: every lifecycle event is pushed to the session's watchers,
// and watchers of a session that reached a terminal status are closed.
type Hub struct {
	log zerolog.Logger

	mu            sync.RWMutex
	bySession     map[string]map[string]*Connection
	count         int
	maxTotal      int
	maxPerSession int
	closed        bool
}

var _ relay.Notifier = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:       log.With().Str("component", "ws").Logger(),
		bySession: make(map[string]map[string]*Connection),
	}
}

// SetLimits caps the total number of watchers and the number per session.
// Zero disables a cap.
func (h *Hub) SetLimits(maxTotal, maxPerSession int) {
	h.mu.Lock()
	h.maxTotal, h.maxPerSession = maxTotal, maxPerSession
	h.mu.Unlock()
}

// Add registers a watcher. It fails with ErrTooManyWatchers when a limit is
// reached and with ErrShuttingDown once CloseAll has run. Adding a watcher
// that is already registered does nothing.
func (h *Hub) Add(c *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrShuttingDown
	}
	watchers := h.bySession[c.SessionID]
	if _, dup := watchers[c.ID]; dup {
		return nil
	}
	if h.maxTotal > 0 && h.count >= h.maxTotal {
		return ErrTooManyWatchers
	}
	if h.maxPerSession > 0 && len(watchers) >= h.maxPerSession {
		return ErrTooManyWatchers
	}

	if watchers == nil {
		watchers = make(map[string]*Connection)
		h.bySession[c.SessionID] = watchers
	}
	watchers[c.ID] = c
	h.count++
	metrics.ActiveWatchers.Inc()
	return nil
}

// Remove unregisters and closes a watcher. It reports whether the watcher was
// still registered, so concurrent removals clean up only once.
func (h *Hub) Remove(c *Connection) bool {
	h.mu.Lock()
	watchers, ok := h.bySession[c.SessionID]
	if ok {
		_, ok = watchers[c.ID]
		delete(watchers, c.ID)
		if len(watchers) == 0 {
			delete(h.bySession, c.SessionID)
		}
	}
	if ok {
		h.count--
		metrics.ActiveWatchers.Dec()
	}
	h.mu.Unlock()

	_ = c.Close()
	return ok
}

// Watchers returns a snapshot of the watchers of one session.
func (h *Hub) Watchers(sessionID string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.bySession[sessionID]))
	for _, c := range h.bySession[sessionID] {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every watcher.
func (h *Hub) All() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, h.count)
	for _, watchers := range h.bySession {
		for _, c := range watchers {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of registered watchers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Notify pushes a status message to every watcher of ev.SessionID.
func (h *Hub) Notify(_ context.Context, ev relay.Event) {
	watchers := h.Watchers(ev.SessionID)
	if len(watchers) == 0 {
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeStatus, protocol.StatusMsg{
		SessionID: ev.SessionID,
		Status:    ev.Status.String(),
		At:        ev.At,
	})
	if err != nil {
		h.log.Error().Err(err).Str("session_id", ev.SessionID).Msg("failed to build status message")
		return
	}

	for _, c := range watchers {
		h.push(c, data, ev.Status)
	}
}

// push writes a status message and closes the watcher when status is
// terminal or the write fails.
func (h *Hub) push(c *Connection, data []byte, status session.Status) {
	if err := c.WriteMessage(data); err != nil {
		h.log.Debug().Err(err).
			Str("session_id", c.SessionID).
			Str("watcher", c.ID).
			Msg("status push failed")
		h.Remove(c)
		return
	}
	if status.Terminal() {
		c.CloseWith(ws.StatusNormalClosure, string(status))
		h.Remove(c)
	}
}

// CloseAll closes every watcher with a going-away status. Later calls to Add
// are rejected.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.All() {
		c.CloseWith(ws.StatusGoingAway, "server shutting down")
		h.Remove(c)
	}
}
