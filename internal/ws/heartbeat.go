package ws

import (
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // extra grace after Interval before a silent watcher is dropped
}

// DefaultHeartbeatConfig returns the default heartbeat settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// runHeartbeat pings every watcher on each tick and drops those that have
// not sent a frame within Interval + Timeout. Browsers answer pings with a
// pong automatically, which counts as activity.
func (s *Server) runHeartbeat() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkConnections(now)
		}
	}
}

func (s *Server) checkConnections(now time.Time) {
	deadline := s.config.Heartbeat.Interval + s.config.Heartbeat.Timeout

	for _, c := range s.hub.All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			s.log.Debug().
				Str("watcher", c.ID).
				Dur("idle", idle.Round(time.Second)).
				Msg("heartbeat timeout")
			s.hub.Remove(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			s.log.Debug().Err(err).Str("watcher", c.ID).Msg("heartbeat ping failed")
			s.hub.Remove(c)
		}
	}
}
