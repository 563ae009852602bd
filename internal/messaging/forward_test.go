package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff/relay/internal/protocol"
	"github.com/handoff/relay/internal/relay"
	"github.com/handoff/relay/internal/session"
	wsrelay "github.com/handoff/relay/internal/ws"
)

type recorder struct {
	events chan relay.Event
}

func (r *recorder) Notify(_ context.Context, ev relay.Event) { r.events <- ev }

// startWatch serves the status watch for a hub that gets no local gateway
// events, so every push it makes comes from the forwarded message.
func startWatch(t *testing.T) (*relay.Gateway, *wsrelay.Hub, string) {
	t.Helper()
	hub := wsrelay.NewHub(zerolog.Nop())
	gw := relay.NewGateway(session.NewMemoryStore(), nil, zerolog.Nop())
	srv := wsrelay.NewServer(hub, gw, wsrelay.DefaultServerConfig(), zerolog.Nop())

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := srv.Watch(w, r, strings.TrimPrefix(r.URL.Path, "/")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
	}))
	t.Cleanup(func() {
		srv.Shutdown()
		httpSrv.Close()
	})
	return gw, hub, "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/"
}

func dialWatch(t *testing.T, url string) io.ReadWriter {
	t.Helper()
	conn, br, _, err := ws.Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	if br == nil {
		return conn
	}
	return struct {
		io.Reader
		io.Writer
	}{io.MultiReader(br, conn), conn}
}

func readStatus(t *testing.T, rw io.ReadWriter) protocol.StatusMsg {
	t.Helper()
	data, err := wsutil.ReadServerText(rw)
	require.NoError(t, err)
	var msg protocol.StatusMsg
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestForwardedEventReachesWatcher(t *testing.T) {
	ctx := context.Background()
	gw, hub, url := startWatch(t)

	sess, err := gw.CreateSession(ctx, relay.CreateRequest{TargetURL: "https://example.org/x"})
	require.NoError(t, err)

	rw := dialWatch(t, url+sess.ID)
	assert.Equal(t, "pending", readStatus(t, rw).Status)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	// The completion was committed by another instance; only the NATS
	// message tells this hub about it.
	data, err := EncodeEvent(relay.Event{
		Type:      relay.EventCompleted,
		SessionID: sess.ID,
		Status:    session.StatusCompleted,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	handle := eventHandler(zerolog.Nop(), forwardTo(ctx, hub))
	handle(&nats.Msg{Subject: SubjectFor(relay.EventCompleted), Data: data})

	msg := readStatus(t, rw)
	assert.Equal(t, sess.ID, msg.SessionID)
	assert.Equal(t, "completed", msg.Status)

	_, err = wsutil.ReadServerText(rw)
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestForwardedEvent_MalformedSkipped(t *testing.T) {
	rec := &recorder{events: make(chan relay.Event, 1)}
	handle := eventHandler(zerolog.Nop(), forwardTo(context.Background(), rec))

	handle(&nats.Msg{Subject: SubjectFor(relay.EventCompleted), Data: []byte(`{"type":"completed"}`)})
	assert.Empty(t, rec.events)
}

// TestForwardEvents_NATS requires a NATS server on localhost:4222.
func TestForwardEvents_NATS(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	cfg.NoEcho = true
	local, err := NewNATSClient(cfg, zerolog.Nop())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer local.Close()

	cfg.Name = "relay-peer"
	peer, err := NewNATSClient(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer peer.Close()

	rec := &recorder{events: make(chan relay.Event, 4)}
	require.NoError(t, local.ForwardEvents(context.Background(), rec))
	require.NoError(t, local.Flush())

	// Own publishes are already delivered locally by the gateway.
	NewEventPublisher(local, zerolog.Nop()).Notify(context.Background(), relay.Event{
		Type: relay.EventRedirected, SessionID: "own", Status: session.StatusRedirected,
	})
	NewEventPublisher(peer, zerolog.Nop()).Notify(context.Background(), relay.Event{
		Type: relay.EventCompleted, SessionID: "peer", Status: session.StatusCompleted,
	})
	require.NoError(t, peer.Flush())

	select {
	case ev := <-rec.events:
		assert.Equal(t, "peer", ev.SessionID)
		assert.Equal(t, session.StatusCompleted, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("peer event not forwarded")
	}
	require.NoError(t, local.Flush())
	assert.Empty(t, rec.events)
}
