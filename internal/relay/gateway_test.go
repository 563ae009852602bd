package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff/relay/internal/session"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestGateway(t *testing.T, opts ...session.Option) (*Gateway, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewGateway(session.NewMemoryStore(opts...), rec, zerolog.Nop()), rec
}

func TestGateway_CreatedSessionIsPending(t *testing.T) {
	g, rec := newTestGateway(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, CreateRequest{TargetURL: "https://example.org/x"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, sess.Status)

	status, err := g.QueryStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, status)
	assert.Equal(t, []EventType{EventCreated}, rec.types())
}

func TestGateway_UnknownIDIsNotFound(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	for _, id := range []string{"never-issued", "has space", "x/../y"} {
		_, err := g.RequestRedirect(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)

		assert.ErrorIs(t, g.MarkComplete(ctx, id), ErrNotFound, id)

		_, err = g.QueryStatus(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)

		_, err = g.Session(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestGateway_EmptyIDIsValidationError(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.QueryStatus(context.Background(), "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGateway_RedirectScenario(t *testing.T) {
	g, rec := newTestGateway(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, CreateRequest{
		TargetURL: "https://example.org/x",
		Cookies:   []string{"a=1", "b=2"},
	})
	require.NoError(t, err)

	fwd, err := g.RequestRedirect(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/x", fwd.TargetURL)
	assert.Equal(t, []session.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, fwd.Cookies)

	status, err := g.QueryStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRedirected, status)

	require.NoError(t, g.MarkComplete(ctx, sess.ID))
	status, err = g.QueryStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, status)

	_, err = g.RequestRedirect(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []EventType{EventCreated, EventRedirected, EventCompleted}, rec.types())
}

func TestGateway_RedirectIsIdempotent(t *testing.T) {
	g, rec := newTestGateway(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, CreateRequest{
		TargetURL: "https://example.org/x",
		Cookies:   []string{"a=1"},
	})
	require.NoError(t, err)

	first, err := g.RequestRedirect(ctx, sess.ID)
	require.NoError(t, err)
	second, err := g.RequestRedirect(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []EventType{EventCreated, EventRedirected}, rec.types())
}

func TestGateway_MalformedCookieSkipped(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, CreateRequest{
		TargetURL: "https://example.org/x",
		Cookies:   []string{"a=1", "malformed", "b=2"},
	})
	require.NoError(t, err)

	fwd, err := g.RequestRedirect(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []session.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, fwd.Cookies)
}

func TestGateway_MarkCompleteIdempotent(t *testing.T) {
	g, rec := newTestGateway(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)

	require.NoError(t, g.MarkComplete(ctx, sess.ID))
	require.NoError(t, g.MarkComplete(ctx, sess.ID))

	status, err := g.QueryStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, status)
	assert.Equal(t, []EventType{EventCreated, EventCompleted}, rec.types())
}

func TestGateway_RedirectWithoutTargetURL(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, CreateRequest{Cookies: []string{"a=1"}})
	require.NoError(t, err)

	_, err = g.RequestRedirect(ctx, sess.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "target_url", verr.Field)

	status, err := g.QueryStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, status)
}

func TestGateway_CreateValidation(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	bigMeta := make(map[string]string)
	for i := 0; i < MaxMetadataEntries+1; i++ {
		bigMeta[string(rune('a'+i%26))+string(rune('a'+i/26))] = "v"
	}

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"relative url", CreateRequest{TargetURL: "/x"}, "target_url"},
		{"ftp scheme", CreateRequest{TargetURL: "ftp://example.org/x"}, "target_url"},
		{"missing host", CreateRequest{TargetURL: "https:///x"}, "target_url"},
		{"too much metadata", CreateRequest{Metadata: bigMeta}, "metadata"},
		{"empty metadata key", CreateRequest{Metadata: map[string]string{"": "v"}}, "metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.CreateSession(ctx, tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestGateway_EvictionBoundary(t *testing.T) {
	const ttl = 10 * time.Minute
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	set := func(t time.Time) {
		mu.Lock()
		now = t
		mu.Unlock()
	}

	store := session.NewMemoryStore(session.WithTTL(ttl), session.WithClock(clock))
	rec := &recorder{}
	g := NewGateway(store, rec, zerolog.Nop())
	ctx := context.Background()

	t0 := clock()
	sess, err := g.CreateSession(ctx, CreateRequest{TargetURL: "https://example.org/x"})
	require.NoError(t, err)

	set(t0.Add(ttl - time.Second))
	status, err := g.QueryStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, status)

	set(t0.Add(ttl + time.Second))
	_, err = g.QueryStatus(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	evicted, err := store.Evict(ctx, clock(), ttl)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	g.NotifyExpired(ctx, evicted)
	assert.Equal(t, []EventType{EventCreated, EventExpired}, rec.types())
}

func TestGateway_ConcurrentRedirectAndComplete(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, CreateRequest{TargetURL: "https://example.org/x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, g.MarkComplete(ctx, sess.ID))
				return
			}
			_, err := g.RequestRedirect(ctx, sess.ID)
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
			status, err := g.QueryStatus(ctx, sess.ID)
			assert.NoError(t, err)
			assert.Contains(t, []session.Status{session.StatusRedirected, session.StatusCompleted}, status)
		}(i)
	}
	wg.Wait()

	status, err := g.QueryStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, status)
}

func TestGateway_Stats(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	a, err := g.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	b, err := g.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	require.NoError(t, g.MarkComplete(ctx, b.ID))

	st, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByStatus[session.StatusCompleted])
	assert.Equal(t, []string{a.ID}, st.PendingIDs)
}

func TestNotifiers_FanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var calls int
	ns := Notifiers{a, nil, b, NotifierFunc(func(context.Context, Event) { calls++ })}

	ns.Notify(context.Background(), Event{Type: EventCompleted, SessionID: "s1"})

	assert.Equal(t, []EventType{EventCompleted}, a.types())
	assert.Equal(t, []EventType{EventCompleted}, b.types())
	assert.Equal(t, 1, calls)
}
