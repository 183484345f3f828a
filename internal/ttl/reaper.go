// Package ttl runs active expiration: a background loop that bulk-deletes
// expired entries nobody reads anymore.
package ttl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ttlkv/internal/metrics"
)

// DefaultInterval is how often the reaper sweeps unless configured.
const DefaultInterval = 10 * time.Second

// Sweeper is the minimal contract required by the Reaper.
// *store.Store satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Reaper periodically asks the store to drop every expired entry.
//
// Sweeps run on the Start goroutine, so they never overlap: a slow sweep
// delays the next tick instead of running next to it.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.SugaredLogger
	metrics  *metrics.Registry
}

// NewReaper creates a new Reaper. A non-positive interval falls back to
// DefaultInterval.
func NewReaper(
	sweeper Sweeper,
	interval time.Duration,
	logger *zap.SugaredLogger,
	metricsRegistry *metrics.Registry,
) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		metrics:  metricsRegistry,
	}
}

// Interval returns the effective sweep period.
func (r *Reaper) Interval() time.Duration {
	return r.interval
}

// Start runs the sweep loop until the context is cancelled.
// It blocks and should typically be run in a separate goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infow("ttl reaper started", "interval", r.interval)

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-ctx.Done():
			r.logger.Debugw("ttl reaper stopped")
			return
		}
	}
}

// runOnce performs a single sweep bounded by one interval.
func (r *Reaper) runOnce(ctx context.Context) {
	r.metrics.Inc(metrics.ReaperRunsTotal)

	sweepCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	start := time.Now()
	removed, err := r.sweeper.Sweep(sweepCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.metrics.Inc(metrics.ReaperFailuresTotal)
		r.logger.Warnw("sweep failed", "error", err)
		return
	}

	r.metrics.Add(metrics.ReaperKeysRemovedTotal, removed)
	if removed > 0 {
		r.logger.Infow("ttl reaper removed expired keys",
			"removed", removed,
			"took", time.Since(start),
		)
	}
}
