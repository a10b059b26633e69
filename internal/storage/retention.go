package storage

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker trims the command audit log on a fixed interval so
// long-running services do not grow the database without bound.
type RetentionWorker struct {
	store  Store
	keep   time.Duration
	period time.Duration
	logger *slog.Logger
}

func NewRetentionWorker(store Store, retentionDays int, period time.Duration, logger *slog.Logger) *RetentionWorker {
	return &RetentionWorker{
		store:  store,
		keep:   time.Duration(retentionDays) * 24 * time.Hour,
		period: period,
		logger: logger,
	}
}

// Run purges immediately, then on every tick until ctx is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.keep <= 0 {
		w.logger.Warn("command log retention disabled")
		return
	}

	w.purge(ctx)

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

func (w *RetentionWorker) purge(ctx context.Context) {
	cutoff := time.Now().Add(-w.keep)
	deleted, err := w.store.PurgeOldData(ctx, cutoff)
	if err != nil {
		w.logger.Error("command log purge failed", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.Info("command log purged", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
