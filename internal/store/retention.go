package store

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls the retention sweeper background job: it
// periodically prunes event_log rows older than MaxAge.
type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// DefaultRetentionConfig picks a 30-day window (see DESIGN.md): long
// enough for HistoryForPath queries to answer "what happened to this
// file last month", short enough that the log does not grow unbounded on
// a long-lived watch.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		MaxAge:   30 * 24 * time.Hour,
		Interval: time.Hour,
	}
}

// RunRetentionSweeper blocks, pruning the event log every Interval until
// ctx is cancelled. Intended to run as one goroutine in an errgroup
// alongside the watcher's event pipeline, the same bounded-background-job
// shape the sync engine uses for its transfer worker pool.
func (s *Store) RunRetentionSweeper(ctx context.Context, cfg RetentionConfig) error {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-cfg.MaxAge)
			n, err := s.PruneEventsBefore(ctx, cutoff)
			if err != nil {
				s.logger.Warn("retention sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.logger.Info("retention sweep pruned events", slog.Int64("count", n), slog.Time("cutoff", cutoff))
			}
		}
	}
}
