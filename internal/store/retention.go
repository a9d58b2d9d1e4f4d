package store

import (
	"context"
	"log/slog"
	"time"
)

const pruneEvery = 6 * time.Hour

// Pruner deletes stored reports older than a retention window.
type Pruner interface {
	PruneReports(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RunRetention prunes once at start and then every six hours until ctx is done.
func RunRetention(ctx context.Context, p Pruner, maxAge time.Duration, logger *slog.Logger) {
	runRetention(ctx, p, maxAge, pruneEvery, logger)
}

func runRetention(ctx context.Context, p Pruner, maxAge, every time.Duration, logger *slog.Logger) {
	prune := func() {
		deleted, err := p.PruneReports(ctx, maxAge)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("prune old reports failed", "error", err)
			}
			return
		}
		if deleted > 0 {
			logger.Info("pruned old reports", "deleted", deleted)
		}
	}

	prune()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
