package loadgen

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RunConfig sets the shape of a load run.
type RunConfig struct {
	Flows       int           // total flows to launch
	Concurrency int           // maximum flows in flight
	Ramp        time.Duration // spread flow launches over this duration
	Progress    time.Duration // progress log interval, zero disables
}

// Run launches cfg.Flows flows through cl and blocks until they finish or ctx
// is cancelled. Results accumulate in c.
func Run(ctx context.Context, cl *Client, c *Collector, cfg RunConfig, log zerolog.Logger) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	interval := time.Millisecond
	if cfg.Flows > 0 && cfg.Ramp > 0 {
		interval = max(cfg.Ramp/time.Duration(cfg.Flows), time.Millisecond)
	}

	progressDone := make(chan struct{})
	var progressWg sync.WaitGroup
	if cfg.Progress > 0 {
		progressWg.Add(1)
		go func() {
			defer progressWg.Done()
			ticker := time.NewTicker(cfg.Progress)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					log.Info().
						Int("flows", c.Flows()).
						Int("target", cfg.Flows).
						Int("errors", c.ErrorCount()).
						Msg("progress")
				case <-progressDone:
					return
				}
			}
		}()
	}

	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

launch:
	for launched := 0; launched < cfg.Flows; {
		select {
		case <-ctx.Done():
			log.Warn().Int("launched", launched).Msg("interrupted during ramp-up")
			break launch
		case <-ticker.C:
			launched++
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := cl.RunFlow(ctx, c); err != nil {
					log.Debug().Err(err).Msg("flow failed")
				}
			}()
		}
	}

	wg.Wait()
	close(progressDone)
	progressWg.Wait()
}
