package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/timbrelabs/timbre/internal/config"
)

// Janitor periodically evicts cache entries older than the retention window.
// It talks to the cache only through its public eviction contract, so an
// in-flight computation racing a sweep degrades to a recompute, never a torn
// read.
type Janitor struct {
	cache    *Cache
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	clock    func() time.Time
}

// NewJanitor starts the eviction loop. A zero retention disables sweeping;
// the loop then exits immediately.
func NewJanitor(parent context.Context, cfg config.VoiceConfig, cache *Cache, log *slog.Logger) *Janitor {
	interval := time.Duration(cfg.JanitorIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Hour
	}
	j := &Janitor{
		cache:    cache,
		log:      log.With(slog.String("component", "cache-janitor")),
		interval: interval,
		maxAge:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		clock:    time.Now,
	}
	ctx, cancel := context.WithCancel(parent)
	j.cancel = cancel
	j.wg.Add(1)
	go j.run(ctx)
	return j
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()
	if j.maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// sweep runs one eviction pass.
func (j *Janitor) sweep() {
	cutoff := j.clock().Add(-j.maxAge)
	removed, err := j.cache.EvictOlderThan(cutoff)
	if err != nil {
		j.log.Warn("cache eviction sweep failed", slogError(err))
		return
	}
	if removed > 0 {
		j.log.Info("evicted stale cache entries", slog.Int("removed", removed))
	}
}

// Close stops the loop and waits for an in-progress sweep to finish.
func (j *Janitor) Close() {
	j.cancel()
	j.wg.Wait()
}
