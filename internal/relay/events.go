package relay

import (
	"context"
	"time"

	"github.com/handoff/relay/internal/session"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventCreated    EventType = "created"
	EventRedirected EventType = "redirected"
	EventCompleted  EventType = "completed"
	EventExpired    EventType = "expired"
)

// Event is emitted after a status change has been committed to the store.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	At        time.Time      `json:"at"`
}

// Notifier receives lifecycle events. Implementations must not block for
// long; they run on the request goroutine.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Notifiers fans an event out to every notifier in order. Nil entries are
// ignored.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

func eventFor(status session.Status) EventType {
	switch status {
	case session.StatusRedirected:
		return EventRedirected
	case session.StatusCompleted:
		return EventCompleted
	case session.StatusExpired:
		return EventExpired
	default:
		return EventCreated
	}
}
