// Package engine contains the position event router: the orchestrator that
// consumes broker event batches and drives the controllers and the ledger in
// a fixed order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/ledger"
	"github.com/avelhorn/tradewarden/internal/metrics"
)

// RiskController is the per-position state machine the router drives. Exactly
// one controller is active per account, breakeven or tiered take-profit,
// selected and validated once at startup, so two processes never race to
// write the same stop-loss field.
type RiskController interface {
	Check(ctx context.Context, snap domain.PositionSnapshot) error
	Forget(positionID string)
	Rebuild(ctx context.Context, snaps []domain.PositionSnapshot)
	Tracked() int
}

// CloseNotifier delivers the best-effort close notification. Failures are
// logged and never affect ledger or controller state.
type CloseNotifier interface {
	TradeClosed(ctx context.Context, symbol, positionID string, price, profit float64) error
}

// Router consumes sequential position update batches, maintains the
// last-known-state cache, and dispatches to the active risk controller and
// the trade ledger. Batches are delivered sequentially, never concurrently;
// that single-stream assumption is what lets the per-position state machines
// run without locks.
type Router struct {
	ledger     *ledger.Ledger
	cache      domain.SnapshotCache
	controller RiskController
	broker     domain.Broker
	notifier   CloseNotifier
	logger     *slog.Logger
}

// NewRouter creates a Router. notifier may be nil.
func NewRouter(
	l *ledger.Ledger,
	cache domain.SnapshotCache,
	controller RiskController,
	broker domain.Broker,
	notifier CloseNotifier,
	logger *slog.Logger,
) *Router {
	return &Router{
		ledger:     l,
		cache:      cache,
		controller: controller,
		broker:     broker,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "event_router")),
	}
}

// Rebuild restores all per-position control state after a restart: it queries
// the broker's current positions, reconciles them into the ledger, seeds the
// snapshot cache, and reconstructs the controller's state machines. Must run
// before event consumption resumes. When the broker is unreachable and the
// snapshot cache still holds state from before the restart, the controller is
// rebuilt from the cached snapshots instead; ledger reconciliation then waits
// for the first live batch.
func (r *Router) Rebuild(ctx context.Context) error {
	snaps, err := r.broker.GetPositions(ctx)
	if err != nil {
		cached, cacheErr := r.cache.All(ctx)
		if cacheErr != nil || len(cached) == 0 {
			return fmt.Errorf("event_router: get positions for rebuild: %w", err)
		}
		r.logger.WarnContext(ctx, "broker unreachable for rebuild, using cached snapshots",
			slog.Int("positions", len(cached)),
			slog.String("error", err.Error()),
		)
		r.controller.Rebuild(ctx, cached)
		return nil
	}

	res, err := r.ledger.SyncWithBrokerPositions(ctx, snaps)
	if err != nil {
		return fmt.Errorf("event_router: reconcile on rebuild: %w", err)
	}

	for _, snap := range snaps {
		if err := r.cache.Set(ctx, snap); err != nil {
			r.logger.WarnContext(ctx, "seed snapshot cache failed",
				slog.String("position_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	r.controller.Rebuild(ctx, snaps)

	r.logger.InfoContext(ctx, "state rebuilt from broker positions",
		slog.Int("positions", len(snaps)),
		slog.Int("imported", res.Imported),
		slog.Int("closed_externally", res.Closed),
	)
	return nil
}

// HandleBatch processes one sequential event batch. No single position's
// failure stops the batch; every error is contained and logged so subsequent
// batches keep flowing.
func (r *Router) HandleBatch(ctx context.Context, batch domain.PositionUpdateBatch) {
	metrics.BatchProcessed()

	// Updates first: refresh the cache, then run the active controller.
	for _, snap := range batch.Updated {
		if err := r.cache.Set(ctx, snap); err != nil {
			r.logger.WarnContext(ctx, "refresh snapshot cache failed",
				slog.String("position_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}

		if err := r.controller.Check(ctx, snap); err != nil {
			level := slog.LevelWarn
			// Expected skip conditions stay quiet.
			if errors.Is(err, domain.ErrInsufficientRiskInfo) || errors.Is(err, domain.ErrVolumeTooSmall) {
				level = slog.LevelDebug
			}
			r.logger.Log(ctx, level, "risk check failed",
				slog.String("position_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Removals: close from the cached last-known state. Never fabricate a
	// close for a position we never saw.
	for _, id := range batch.RemovedIDs {
		snap, err := r.cache.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.logger.WarnContext(ctx, "removal for unknown position, skipping",
					slog.String("position_id", id),
				)
			} else {
				r.logger.ErrorContext(ctx, "snapshot cache read failed",
					slog.String("position_id", id),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if err := r.ledger.CloseTradeFromBroker(ctx, id, snap.CurrentPrice, snap.Profit, time.Now().UTC()); err != nil {
			r.logger.ErrorContext(ctx, "close from broker removal failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
			// Leave the cache entry so a retried removal can still close it.
			continue
		}

		r.controller.Forget(id)

		if r.notifier != nil {
			if err := r.notifier.TradeClosed(ctx, snap.Symbol, id, snap.CurrentPrice, snap.Profit); err != nil {
				r.logger.WarnContext(ctx, "close notification failed",
					slog.String("position_id", id),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := r.cache.Delete(ctx, id); err != nil {
			r.logger.WarnContext(ctx, "evict snapshot cache failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	// Catch positions opened or closed outside this system's control.
	if len(batch.Updated) > 0 {
		if _, err := r.ledger.SyncWithBrokerPositions(ctx, batch.Updated); err != nil {
			r.logger.ErrorContext(ctx, "reconciliation failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// Tracked returns the active controller's live state count.
func (r *Router) Tracked() int {
	return r.controller.Tracked()
}
