package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/relay"
)

// Publisher is the subset of NATSClient used to emit events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// SubjectFor returns the subject an event of type typ is published on.
func SubjectFor(typ relay.EventType) string {
	return SubjectSession + "." + string(typ)
}

// EncodeEvent serializes ev for the wire.
func EncodeEvent(ev relay.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode event: %w", err)
	}
	return data, nil
}

// DecodeEvent parses an event published by EventPublisher.
func DecodeEvent(data []byte) (relay.Event, error) {
	var ev relay.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return relay.Event{}, fmt.Errorf("messaging: decode event: %w", err)
	}
	if ev.SessionID == "" || ev.Type == "" {
		return relay.Event{}, fmt.Errorf("messaging: decode event: missing type or session_id")
	}
	return ev, nil
}

// EventPublisher forwards gateway events to NATS. Publish failures are logged
// and dropped; the store change has already been committed.
type EventPublisher struct {
	pub Publisher
	log zerolog.Logger
}

var _ relay.Notifier = (*EventPublisher)(nil)

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(pub Publisher, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{pub: pub, log: log.With().Str("component", "nats").Logger()}
}

// Notify publishes ev on its subject.
func (p *EventPublisher) Notify(_ context.Context, ev relay.Event) {
	data, err := EncodeEvent(ev)
	if err != nil {
		p.log.Error().Err(err).Str("session_id", ev.SessionID).Msg("event dropped")
		return
	}
	if err := p.pub.Publish(SubjectFor(ev.Type), data); err != nil {
		p.log.Warn().Err(err).
			Str("session_id", ev.SessionID).
			Str("event", string(ev.Type)).
			Msg("event publish failed")
	}
}

// SubscribeEvents delivers every lifecycle event to handler. Malformed
// messages are logged and skipped.
func (c *NATSClient) SubscribeEvents(handler func(relay.Event)) error {
	return c.Subscribe(SubjectAllSession, eventHandler(c.log, handler))
}

// ForwardEvents hands every lifecycle event published on NATS to n. A relay
// instance uses it to push transitions committed by other instances to its
// own watchers.
func (c *NATSClient) ForwardEvents(ctx context.Context, n relay.Notifier) error {
	return c.SubscribeEvents(forwardTo(ctx, n))
}

func forwardTo(ctx context.Context, n relay.Notifier) func(relay.Event) {
	return func(ev relay.Event) { n.Notify(ctx, ev) }
}

func eventHandler(log zerolog.Logger, handler func(relay.Event)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("skipping malformed event")
			return
		}
		handler(ev)
	}
}
