package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor periodically deletes expired cache rows from the durable tier and
// sweeps the volatile tier. It runs as a background goroutine and respects
// context cancellation for graceful shutdown.
type Janitor struct {
	cache    *TieredCache
	interval time.Duration
}

// NewJanitor creates a janitor that sweeps on the given interval.
func NewJanitor(c *TieredCache, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{cache: c, interval: interval}
}

// Start runs the janitor loop. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("cache janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup.
	j.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cache janitor stopped")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		}
	}
}

func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	removed, err := j.cache.CleanupExpired(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cache janitor: durable sweep failed")
		return
	}
	if removed > 0 {
		log.Info().
			Int64("removed", removed).
			Dur("elapsed", time.Since(start)).
			Msg("cache janitor cycle complete")
	}
}
