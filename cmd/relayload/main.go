// Command relayload drives full relay flows against a running server:
// create a session, watch it over WebSocket, follow the redirect and mark it
// complete. It prints per-step latency percentiles when done.
//
// Usage:
//
//	relayload -url http://localhost:10000 -flows 500 -concurrency 50
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/handoff/relay/internal/loadgen"
	"github.com/handoff/relay/internal/logger"
)

func main() {
	def := loadgen.DefaultConfig()

	baseURL := flag.String("url", def.BaseURL, "relay server base URL")
	target := flag.String("target", def.TargetURL, "target_url for created sessions")
	flows := flag.Int("flows", 100, "number of flows to run")
	concurrency := flag.Int("concurrency", 20, "maximum flows in flight")
	ramp := flag.Duration("ramp", 5*time.Second, "spread flow launches over this duration")
	timeout := flag.Duration("timeout", def.Timeout, "per-flow deadline")
	progress := flag.Duration("progress", 2*time.Second, "progress log interval")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(logger.Options{Level: *logLevel, Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := def
	cfg.BaseURL = *baseURL
	cfg.TargetURL = *target
	cfg.Timeout = *timeout

	log.Info().
		Str("url", cfg.BaseURL).
		Int("flows", *flows).
		Int("concurrency", *concurrency).
		Dur("ramp", *ramp).
		Msg("starting relay load")

	collector := loadgen.NewCollector()
	loadgen.Run(ctx, loadgen.NewClient(cfg), collector, loadgen.RunConfig{
		Flows:       *flows,
		Concurrency: *concurrency,
		Ramp:        *ramp,
		Progress:    *progress,
	}, log)

	collector.Report(os.Stdout)
	if collector.ErrorCount() > 0 {
		os.Exit(1)
	}
}
