// Package pipeline hosts periodic background jobs supervised by the app.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/avelhorn/tradewarden/internal/blob/s3"
)

// Archiver periodically uploads the previous calendar month's closed trades
// to cold storage. Re-running a month overwrites the same object, so the job
// is idempotent.
type Archiver struct {
	blob     *s3blob.Archiver
	interval time.Duration
	logger   *slog.Logger
}

// NewArchiver creates a new Archiver that runs at the given interval.
func NewArchiver(blob *s3blob.Archiver, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		blob:     blob,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass over the previous month.
func (a *Archiver) Run(ctx context.Context) error {
	now := time.Now().UTC()
	// First of the current month minus one month; day arithmetic on "now"
	// misbehaves at month ends.
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	count, err := a.blob.ArchiveMonth(ctx, prev)
	if err != nil {
		return fmt.Errorf("archiving trades for %s: %w", prev.Format("2006-01"), err)
	}
	a.logger.Info("archive pass complete",
		slog.String("month", prev.Format("2006-01")),
		slog.Int64("count", count),
	)
	return nil
}

// RunLoop runs archive passes on a fixed interval until the context is
// cancelled. Individual failures are logged and the loop continues.
func (a *Archiver) RunLoop(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
