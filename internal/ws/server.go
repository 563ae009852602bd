// Package ws serves the WebSocket status watch. A watcher connects to one
// session, immediately receives its current status, and then receives a
// status message for every transition until the session reaches a terminal
// status, at which point the server closes the connection.
package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/protocol"
	"github.com/handoff/relay/internal/session"
)

var (
	ErrTooManyWatchers = errors.New("ws: too many watchers")
	ErrShuttingDown    = errors.New("ws: server shutting down")
)

// StatusSource reads the current status of a session.
type StatusSource interface {
	QueryStatus(ctx context.Context, id string) (session.Status, error)
}

// ServerConfig holds tunable parameters for the status watch.
type ServerConfig struct {
	MaxWatchers           int           // hard cap on total watchers
	MaxWatchersPerSession int           // cap per watched session
	MaxFrameBytes         int64         // largest accepted client frame
	WriteTimeout          time.Duration // per-frame write deadline
	Heartbeat             HeartbeatConfig
}

// DefaultServerConfig returns the default watch settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxWatchers:           10000,
		MaxWatchersPerSession: 8,
		MaxFrameBytes:         4096,
		WriteTimeout:          10 * time.Second,
		Heartbeat:             DefaultHeartbeatConfig(),
	}
}

// Server upgrades watch requests and owns one reader goroutine per watcher
// plus the shared heartbeat goroutine.
type Server struct {
	config     ServerConfig
	hub        *Hub
	source     StatusSource
	dispatcher *Dispatcher
	log        zerolog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex // orders wg.Add against Shutdown
	closing bool
}

// NewServer creates a Server. Lifecycle events must be routed to hub for
// watchers to see transitions.
func NewServer(hub *Hub, source StatusSource, config ServerConfig, log zerolog.Logger) *Server {
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = DefaultServerConfig().MaxFrameBytes
	}
	log = log.With().Str("component", "ws").Logger()
	hub.SetLimits(config.MaxWatchers, config.MaxWatchersPerSession)
	return &Server{
		config:     config,
		hub:        hub,
		source:     source,
		dispatcher: NewDispatcher(log),
		log:        log,
		done:       make(chan struct{}),
	}
}

// Start launches the heartbeat.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		if s.track() {
			go s.runHeartbeat()
		}
	})
}

// Watch upgrades the request and subscribes it to sessionID. It returns an
// error only when it has not written a response: the session lookup failed
// or a watcher limit was hit. After a successful upgrade it returns nil and
// the connection is served in the background. The limits are checked again
// by the hub after the upgrade; a watcher rejected there is closed with a
// policy-violation status.
func (s *Server) Watch(w http.ResponseWriter, r *http.Request, sessionID string) error {
	select {
	case <-s.done:
		return ErrShuttingDown
	default:
	}

	if _, err := s.source.QueryStatus(r.Context(), sessionID); err != nil {
		return err
	}
	if s.config.MaxWatchers > 0 && s.hub.Count() >= s.config.MaxWatchers {
		return ErrTooManyWatchers
	}
	if s.config.MaxWatchersPerSession > 0 && len(s.hub.Watchers(sessionID)) >= s.config.MaxWatchersPerSession {
		return ErrTooManyWatchers
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Str("session_id", sessionID).Msg("upgrade failed")
		return nil
	}

	c := newConnection(sessionID, conn, s.config.WriteTimeout)
	if !s.track() {
		c.CloseWith(ws.StatusGoingAway, "server shutting down")
		return nil
	}
	if err := s.hub.Add(c); err != nil {
		s.wg.Done()
		code := ws.StatusPolicyViolation
		if errors.Is(err, ErrShuttingDown) {
			code = ws.StatusGoingAway
		}
		s.log.Debug().Err(err).Str("session_id", sessionID).Msg("watcher rejected")
		c.CloseWith(code, err.Error())
		return nil
	}

	// Read again after registering so a transition that raced the upgrade
	// is not lost.
	status, err := s.source.QueryStatus(r.Context(), sessionID)
	if err != nil {
		status = session.StatusExpired
	}
	data, err := protocol.NewServerMessage(protocol.TypeStatus, protocol.StatusMsg{
		SessionID: sessionID,
		Status:    status.String(),
		At:        time.Now().UTC(),
	})
	if err == nil {
		err = c.WriteMessage(data)
	}
	if err != nil || status.Terminal() {
		c.CloseWith(ws.StatusNormalClosure, status.String())
		s.hub.Remove(c)
		s.wg.Done()
		return nil
	}

	s.log.Debug().
		Str("session_id", sessionID).
		Str("watcher", c.ID).
		Int("total", s.hub.Count()).
		Msg("watcher connected")

	go s.readLoop(c)
	return nil
}

// track reserves a slot in the reader wait group unless Shutdown has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// readLoop reads client frames until the connection fails or closes.
// Control frames are answered here so every write goes through the
// connection's write mutex.
func (s *Server) readLoop(c *Connection) {
	defer s.wg.Done()
	defer func() {
		if s.hub.Remove(c) {
			s.log.Debug().Str("watcher", c.ID).Int("total", s.hub.Count()).Msg("watcher disconnected")
		}
	}()

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.touch()

		if header.Length > s.config.MaxFrameBytes {
			c.CloseWith(ws.StatusMessageTooBig, "frame too large")
			return
		}
		payload, err := io.ReadAll(reader)
		if err != nil {
			return
		}

		switch header.OpCode {
		case ws.OpPing:
			if err := c.writeFrame(ws.NewPongFrame(payload)); err != nil {
				return
			}
		case ws.OpPong:
		case ws.OpClose:
			c.CloseWith(ws.StatusNormalClosure, "")
			return
		case ws.OpText:
			if len(payload) > 0 {
				s.dispatcher.Dispatch(c, payload)
			}
		default:
			s.dispatcher.sendError(c, protocol.CodeBadMessage, "only text frames are accepted")
		}
	}
}

// Shutdown stops the heartbeat, closes every watcher and waits for their
// reader goroutines to exit.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		close(s.done)
		s.hub.CloseAll()
		s.wg.Wait()
		s.log.Info().Msg("status watch stopped")
	})
}
