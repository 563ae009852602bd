// Package relay is the state machine and cookie-forwarding contract exposed to
// request handlers. It validates input, applies transitions through the
// session store, and emits lifecycle events once a change is committed.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/metrics"
	"github.com/handoff/relay/internal/session"
)

// CreateRequest is the creator's input to CreateSession. Cookies are raw
// "name=value" strings.
type CreateRequest struct {
	TargetURL string
	Cookies   []string
	Metadata  map[string]string
}

// Gateway is safe for concurrent use.
type Gateway struct {
	store    session.Store
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewGateway creates a Gateway over store. notifier may be nil.
func NewGateway(store session.Store, notifier Notifier, log zerolog.Logger) *Gateway {
	if notifier == nil {
		notifier = Notifiers(nil)
	}
	return &Gateway{
		store:    store,
		notifier: notifier,
		log:      log.With().Str("component", "gateway").Logger(),
		now:      time.Now,
	}
}

// CreateSession validates req and stores a new pending session.
func (g *Gateway) CreateSession(ctx context.Context, req CreateRequest) (session.Session, error) {
	if err := ValidateTargetURL(req.TargetURL); err != nil {
		return session.Session{}, g.fail("create", "", err)
	}
	if err := ValidateMetadata(req.Metadata); err != nil {
		return session.Session{}, g.fail("create", "", err)
	}
	cookies := ParseCookies(req.Cookies)
	if len(cookies) > MaxCookies {
		return session.Session{}, g.fail("create", "", invalid("cookies", "more than %d cookies", MaxCookies))
	}

	sess, err := g.store.Create(ctx, session.Payload{
		TargetURL: req.TargetURL,
		Cookies:   cookies,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return session.Session{}, g.fail("create", "", err)
	}

	metrics.SessionsCreated.Inc()
	g.log.Info().
		Str("session_id", sess.ID).
		Int("cookies", len(cookies)).
		Int("skipped_cookies", len(req.Cookies)-len(cookies)).
		Msg("session created")
	g.emit(ctx, EventCreated, sess.ID, session.StatusPending)
	return sess, nil
}

// RequestRedirect moves a pending session to redirected and returns the
// forward payload. Repeating it on a redirected session returns the same
// payload. A completed session yields ErrInvalidTransition.
func (g *Gateway) RequestRedirect(ctx context.Context, id string) (Forward, error) {
	prev, err := g.lookup(ctx, "redirect", id)
	if err != nil {
		return Forward{}, err
	}
	if prev.Status == session.StatusCompleted {
		return Forward{}, g.fail("redirect", id,
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, session.StatusRedirected))
	}
	if prev.TargetURL == "" {
		return Forward{}, g.fail("redirect", id, invalid("target_url", "session has no target URL"))
	}

	sess, err := g.store.Transition(ctx, id, session.StatusRedirected, session.StatusPending)
	if err != nil {
		return Forward{}, g.fail("redirect", id, err)
	}
	if prev.Status != session.StatusRedirected {
		g.committed(ctx, sess)
	}

	return Forward{
		SessionID: sess.ID,
		TargetURL: sess.TargetURL,
		Cookies:   sess.Cookies,
	}, nil
}

// MarkComplete moves a pending or redirected session to completed. Calling it
// on a completed session is a no-op.
func (g *Gateway) MarkComplete(ctx context.Context, id string) error {
	prev, err := g.lookup(ctx, "complete", id)
	if err != nil {
		return err
	}

	sess, err := g.store.Transition(ctx, id, session.StatusCompleted,
		session.StatusPending, session.StatusRedirected)
	if err != nil {
		return g.fail("complete", id, err)
	}
	if prev.Status != session.StatusCompleted {
		g.committed(ctx, sess)
	}
	return nil
}

// QueryStatus returns the current status of a session.
func (g *Gateway) QueryStatus(ctx context.Context, id string) (session.Status, error) {
	sess, err := g.lookup(ctx, "status", id)
	if err != nil {
		return "", err
	}
	return sess.Status, nil
}

// Session returns a snapshot of a session.
func (g *Gateway) Session(ctx context.Context, id string) (session.Session, error) {
	return g.lookup(ctx, "get", id)
}

// Stats returns store-wide counts.
func (g *Gateway) Stats(ctx context.Context) (session.Stats, error) {
	st, err := g.store.Stats(ctx)
	if err != nil {
		return st, g.fail("stats", "", err)
	}
	return st, nil
}

// NotifyExpired emits an expired event for every evicted session. It matches
// session.EvictFunc.
func (g *Gateway) NotifyExpired(ctx context.Context, evicted []session.Session) {
	for _, s := range evicted {
		metrics.Transitions.WithLabelValues(string(session.StatusExpired)).Inc()
		g.emit(ctx, EventExpired, s.ID, session.StatusExpired)
	}
}

func (g *Gateway) lookup(ctx context.Context, op, id string) (session.Session, error) {
	if err := ValidateID(id); err != nil {
		return session.Session{}, g.fail(op, id, err)
	}
	sess, err := g.store.Get(ctx, id)
	if err != nil {
		return session.Session{}, g.fail(op, id, err)
	}
	return sess, nil
}

func (g *Gateway) committed(ctx context.Context, sess session.Session) {
	metrics.Transitions.WithLabelValues(string(sess.Status)).Inc()
	g.log.Info().
		Str("session_id", sess.ID).
		Str("status", sess.Status.String()).
		Msg("session transitioned")
	g.emit(ctx, eventFor(sess.Status), sess.ID, sess.Status)
}

func (g *Gateway) emit(ctx context.Context, typ EventType, id string, status session.Status) {
	g.notifier.Notify(ctx, Event{
		Type:      typ,
		SessionID: id,
		Status:    status,
		At:        g.now().UTC(),
	})
}

// fail records err and returns it unchanged.
func (g *Gateway) fail(op, id string, err error) error {
	kind := errorKind(err)
	metrics.GatewayErrors.WithLabelValues(op, kind).Inc()

	ev := g.log.Debug()
	if kind == "internal" {
		ev = g.log.Error()
	}
	ev.Err(err).Str("op", op).Str("session_id", id).Msg("gateway operation failed")
	return err
}
