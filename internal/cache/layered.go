package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/l0p7/shieldcache/internal/metrics"
)

// Layered composes an ordered list of tiers, fastest first. Reads walk the
// tiers in order and promote hits back into the faster tiers; writes go
// through to every tier. Tier failures are logged and degrade to a miss or
// no-op: the cache never fails the request it is shielding.
type Layered struct {
	tiers            []Store
	promotionCeiling time.Duration
	stats            *Stats
	logger           *slog.Logger
	metrics          *metrics.Recorder
}

// LayeredOptions configures the composition.
type LayeredOptions struct {
	// Tiers in read order, fastest first. At least one is required.
	Tiers []Store
	// PromotionCeiling caps the TTL an entry gets when promoted into a
	// faster tier; the remaining lifetime is used when shorter.
	PromotionCeiling time.Duration
	Stats            *Stats
	Logger           *slog.Logger
	Metrics          *metrics.Recorder
}

// NewLayered builds the composed cache.
func NewLayered(opts LayeredOptions) *Layered {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := opts.Stats
	if stats == nil {
		names := make([]string, 0, len(opts.Tiers))
		for _, tier := range opts.Tiers {
			names = append(names, tier.Name())
		}
		stats = NewStats(names...)
	}
	ceiling := opts.PromotionCeiling
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	return &Layered{
		tiers:            opts.Tiers,
		promotionCeiling: ceiling,
		stats:            stats,
		logger:           logger.With(slog.String("agent", "layered_cache")),
		metrics:          opts.Metrics,
	}
}

// Tiers returns the composed tiers in read order.
func (l *Layered) Tiers() []Store { return l.tiers }

// Stats returns the injected aggregate counters.
func (l *Layered) Stats() *Stats { return l.stats }

// Get walks the tiers in order. On a hit in a slower tier the entry is
// promoted into every faster tier with a capped TTL so hot keys migrate
// forward without inheriting the slow tier's full lifetime. The name of the
// serving tier is returned alongside the entry.
func (l *Layered) Get(ctx context.Context, key string) (Entry, string, bool) {
	for i, tier := range l.tiers {
		start := time.Now()
		entry, ok, err := tier.Get(ctx, key)
		if err != nil {
			l.observe(tier.Name(), metrics.CacheOperationGet, metrics.CacheOutcomeError, start)
			l.logger.Warn("tier read failed, treating as miss",
				slog.String("tier", tier.Name()), slog.Any("error", err))
			continue
		}
		if !ok {
			l.observe(tier.Name(), metrics.CacheOperationGet, metrics.CacheOutcomeMiss, start)
			continue
		}
		l.observe(tier.Name(), metrics.CacheOperationGet, metrics.CacheOutcomeHit, start)
		l.stats.RecordHit(tier.Name())
		l.promote(ctx, key, entry, i)
		return entry, tier.Name(), true
	}
	l.stats.RecordMiss()
	return Entry{}, "", false
}

// promote copies a hit from tier index src into every faster tier with
// ttl = min(ceiling, remaining lifetime).
func (l *Layered) promote(ctx context.Context, key string, entry Entry, src int) {
	if src == 0 {
		return
	}
	remaining := time.Until(entry.ExpiresAt)
	if remaining <= 0 {
		return
	}
	ttl := remaining
	if ttl > l.promotionCeiling {
		ttl = l.promotionCeiling
	}
	for _, tier := range l.tiers[:src] {
		start := time.Now()
		if err := tier.Set(ctx, key, entry, ttl); err != nil {
			l.observe(tier.Name(), metrics.CacheOperationSet, metrics.CacheOutcomeError, start)
			l.logger.Warn("tier promotion failed",
				slog.String("tier", tier.Name()), slog.Any("error", err))
			continue
		}
		l.observe(tier.Name(), metrics.CacheOperationSet, metrics.CacheOutcomeStored, start)
	}
}

// Set writes through to every tier with the same TTL. Tier failures are
// logged and skipped.
func (l *Layered) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	for _, tier := range l.tiers {
		start := time.Now()
		if err := tier.Set(ctx, key, entry, ttl); err != nil {
			l.observe(tier.Name(), metrics.CacheOperationSet, metrics.CacheOutcomeError, start)
			l.logger.Warn("tier write failed",
				slog.String("tier", tier.Name()), slog.Any("error", err))
			continue
		}
		l.observe(tier.Name(), metrics.CacheOperationSet, metrics.CacheOutcomeStored, start)
	}
}

// Clear empties every tier, returning the first error encountered.
func (l *Layered) Clear(ctx context.Context) error {
	var firstErr error
	for _, tier := range l.tiers {
		if err := tier.Clear(ctx); err != nil {
			l.logger.Error("tier clear failed",
				slog.String("tier", tier.Name()), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Entries reports the live entry count per tier and publishes them as
// gauges when a recorder is attached.
func (l *Layered) Entries(ctx context.Context) map[string]int64 {
	counts := make(map[string]int64, len(l.tiers))
	for _, tier := range l.tiers {
		count, err := tier.Len(ctx)
		if err != nil {
			l.logger.Warn("tier count failed",
				slog.String("tier", tier.Name()), slog.Any("error", err))
			continue
		}
		counts[tier.Name()] = count
		l.metrics.SetCacheEntries(tier.Name(), count)
	}
	return counts
}

// Close releases every tier.
func (l *Layered) Close(ctx context.Context) error {
	var firstErr error
	for _, tier := range l.tiers {
		if err := tier.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Layered) observe(tier string, op metrics.CacheOperation, result metrics.CacheOutcome, start time.Time) {
	l.metrics.ObserveCache(tier, op, result, time.Since(start))
}
