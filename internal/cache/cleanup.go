package cache

import (
	"context"
	"log/slog"
	"time"
)

// CleanupWorker periodically purges expired rows from the disk tier and
// watches its size against the configured maximum. A failed pass is logged
// and the loop continues; only context cancellation stops it.
type CleanupWorker struct {
	store        *SQLiteStore
	interval     time.Duration
	maxSizeBytes int64
	logger       *slog.Logger
}

// NewCleanupWorker wires the worker to the disk tier. maxSizeBytes of zero
// disables size pressure reporting.
func NewCleanupWorker(store *SQLiteStore, interval time.Duration, maxSizeBytes int64, logger *slog.Logger) *CleanupWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupWorker{
		store:        store,
		interval:     interval,
		maxSizeBytes: maxSizeBytes,
		logger:       logger.With(slog.String("agent", "cache_cleanup")),
	}
}

// Run blocks until ctx is canceled, waking on the configured interval.
func (w *CleanupWorker) Run(ctx context.Context) {
	w.logger.Info("cleanup worker starting", slog.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopping")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *CleanupWorker) pass(ctx context.Context) {
	purged, err := w.store.PurgeExpired(ctx)
	if err != nil {
		w.logger.Error("expiry purge failed", slog.Any("error", err))
		return
	}
	if purged > 0 {
		w.logger.Debug("purged expired entries", slog.Int64("purged", purged))
	}

	if w.maxSizeBytes <= 0 {
		return
	}
	size, err := w.store.SizeBytes(ctx)
	if err != nil {
		w.logger.Error("size check failed", slog.Any("error", err))
		return
	}
	if size*10 >= w.maxSizeBytes*8 {
		w.logger.Warn("disk cache above 80% of configured maximum",
			slog.Int64("size_bytes", size),
			slog.Int64("max_size_bytes", w.maxSizeBytes))
	}
}
