// Command relaywatch subscribes to relay lifecycle events on NATS and logs
// them. With -session it follows a single session and exits once that session
// reaches a terminal status.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/config"
	"github.com/handoff/relay/internal/logger"
	"github.com/handoff/relay/internal/messaging"
	"github.com/handoff/relay/internal/relay"
)

func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	sessionID := flag.String("session", "", "follow a single session id")
	flag.Parse()

	log := logger.New(logger.Options{Level: "info", Format: "console"})

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := run(cfg, *sessionID, log); err != nil {
		log.Fatal().Err(err).Msg("relaywatch failed")
	}
}

func run(cfg *config.Config, sessionID string, log zerolog.Logger) error {
	natsCfg := messaging.DefaultNATSConfig()
	if cfg.NATS.URL != "" {
		natsCfg.URL = cfg.NATS.URL
	}
	natsCfg.Name = cfg.NATS.Name + "-watch"

	client, err := messaging.NewNATSClient(natsCfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = client.SubscribeEvents(func(ev relay.Event) {
		if sessionID != "" && ev.SessionID != sessionID {
			return
		}
		log.Info().
			Str("event", string(ev.Type)).
			Str("session_id", ev.SessionID).
			Str("status", ev.Status.String()).
			Time("at", ev.At).
			Msg("session event")
		if sessionID != "" && ev.Status.Terminal() {
			stop()
		}
	})
	if err != nil {
		return err
	}

	log.Info().Str("url", natsCfg.URL).Str("session", sessionID).Msg("watching relay events")
	<-ctx.Done()
	return nil
}
