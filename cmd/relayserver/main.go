package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/config"
	"github.com/handoff/relay/internal/httpapi"
	"github.com/handoff/relay/internal/logger"
	"github.com/handoff/relay/internal/messaging"
	"github.com/handoff/relay/internal/ratelimit"
	"github.com/handoff/relay/internal/relay"
	"github.com/handoff/relay/internal/session"
	"github.com/handoff/relay/internal/ws"
)

var version = "dev"

func main() {
	envFile := flag.String("env", ".env", "optional .env file to load before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("relay server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeOpts := []session.Option{
		session.WithTTL(cfg.SessionTTL),
		session.WithIDGenerator(session.NewIDGenerator(cfg.ShortIDs)),
	}

	var (
		store   session.Store
		counter ratelimit.Counter
		ping    httpapi.PingFunc
	)
	if cfg.UseRedis() {
		client, err := session.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		store = session.NewRedisStore(client, storeOpts...)
		counter = ratelimit.NewRedisCounter(client)
		ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else {
		store = session.NewMemoryStore(storeOpts...)
		counter = ratelimit.NewMemoryCounter(cfg.RateWindow)
	}
	defer store.Close()

	hub := ws.NewHub(log)
	notifiers := relay.Notifiers{hub}

	if cfg.NATS.URL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = cfg.NATS.Name
		natsCfg.NoEcho = true
		nc, err := messaging.NewNATSClient(natsCfg, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		notifiers = append(notifiers, messaging.NewEventPublisher(nc, log))
		// Transitions committed by other instances reach local watchers here.
		if err := nc.ForwardEvents(ctx, hub); err != nil {
			return err
		}
	}

	gateway := relay.NewGateway(store, notifiers, log)

	watchCfg := ws.DefaultServerConfig()
	watchCfg.MaxWatchers = cfg.WatchMaxWatchers
	watchCfg.MaxWatchersPerSession = cfg.WatchPerSession
	watchCfg.Heartbeat.Interval = cfg.WatchHeartbeat
	watch := ws.NewServer(hub, gateway, watchCfg, log)
	watch.Start()

	evictor := session.NewEvictor(store, session.EvictorConfig{
		TTL:      cfg.SessionTTL,
		Interval: cfg.EvictInterval,
	}, log, gateway.NotifyExpired)
	evictor.Start(ctx)

	createRule := ratelimit.RuleCreateSession
	createRule.Limit = cfg.RateLimit
	createRule.Window = cfg.RateWindow

	api := httpapi.New(gateway, watch, ratelimit.NewLimiter(counter, log), ping, httpapi.Options{
		Version:     version,
		Environment: cfg.Environment,
		Backend:     cfg.StoreBackend,
		CORSOrigins: cfg.CORSOrigins,
		CreateRule:  createRule,
		WatchRule:   ratelimit.RuleWatch,
	}, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("env", cfg.Environment).
		Str("backend", cfg.StoreBackend).
		Dur("session_ttl", cfg.SessionTTL).
		Bool("short_ids", cfg.ShortIDs).
		Bool("nats", cfg.NATS.URL != "").
		Str("version", version).
		Msg("relay server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	watch.Shutdown()
	evictor.Stop()

	log.Info().Msg("relay server stopped")
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
