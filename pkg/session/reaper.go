package session

import (
	"context"
	"log/slog"
	"time"
)

// Purger is implemented by components with time-based state the reaper
// should garbage-collect on its sweep cadence, such as the rate limiter's
// client entries.
type Purger interface {
	// PurgeStale drops state that is stale as of now and returns how many
	// entries were removed.
	PurgeStale(now time.Time) int
}

// Reaper periodically sweeps the registry: idle eviction first, then
// memory eviction over the survivors, then tombstone purging, then any
// registered purgers.
type Reaper struct {
	registry *Registry
	purgers  []Purger
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a reaper for the registry. Additional purgers piggy-back
// on the sweep cadence.
func NewReaper(registry *Registry, logger *slog.Logger, purgers ...Purger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		registry: registry,
		purgers:  purgers,
		logger:   logger,
	}
}

// Start launches the background sweep loop. It returns immediately; Close
// stops the loop and waits for an in-flight sweep to finish.
func (rp *Reaper) Start(ctx context.Context) {
	ctx, rp.cancel = context.WithCancel(ctx)
	rp.done = make(chan struct{})

	interval := rp.registry.config.SweepInterval
	go func() {
		defer close(rp.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rp.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	rp.logger.Info("reaper: started",
		"sweep_interval", interval.String(),
		"idle_timeout", rp.registry.config.IdleTimeout.String(),
		"memory_limit_bytes", rp.registry.config.MemoryLimitBytes)
}

// Sweep runs one full collection pass. It is exported so operators and
// tests can trigger a pass without waiting for the ticker.
func (rp *Reaper) Sweep(ctx context.Context) {
	now := time.Now()
	idle := rp.registry.evictIdle(ctx, now)
	memory := rp.registry.evictOverMemory(ctx, now)
	tombstones := rp.registry.purgeTombstones(now)

	purged := 0
	for _, p := range rp.purgers {
		purged += p.PurgeStale(now)
	}

	if idle+memory+tombstones+purged > 0 {
		rp.logger.Debug("reaper: sweep complete",
			"idle_evicted", idle,
			"memory_evicted", memory,
			"tombstones_purged", tombstones,
			"entries_purged", purged)
	}
}

// Close stops the sweep loop and waits for it to exit. Safe to call when
// the reaper was never started.
func (rp *Reaper) Close() {
	if rp.cancel != nil {
		rp.cancel()
		<-rp.done
	}
	rp.logger.Info("reaper: stopped")
}
