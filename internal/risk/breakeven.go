package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/metrics"
)

// BreakevenConfig tunes the breakeven controller.
type BreakevenConfig struct {
	// TriggerR is the current-R at which the stop ratchets to entry.
	TriggerR float64
	// BufferPips is added beyond entry, signed toward profit, so the stop
	// sits at entry plus a small cushion.
	BufferPips float64
}

type bePhase int

const (
	beTracking bePhase = iota
	beMoved // terminal; further checks are no-ops
)

type beState struct {
	phase        bePhase
	entryPrice   float64
	originalSL   float64
	direction    domain.Direction
	riskDistance float64
	degraded     bool // risk info came from the reported stop, not the ledger
}

// Breakeven ratchets a position's stop-loss to entry plus a buffer once the
// position has moved TriggerR in its favor. One state machine per position id:
// UNCHECKED -> TRACKING -> MOVED.
type Breakeven struct {
	cfg     BreakevenConfig
	broker  PositionModifier
	symbols SymbolInfoSource
	trades  TradeSource
	alerter Alerter
	logger  *slog.Logger

	states map[string]*beState
}

// NewBreakeven creates the controller.
func NewBreakeven(
	cfg BreakevenConfig,
	broker PositionModifier,
	symbols SymbolInfoSource,
	trades TradeSource,
	logger *slog.Logger,
) *Breakeven {
	return &Breakeven{
		cfg:     cfg,
		broker:  broker,
		symbols: symbols,
		trades:  trades,
		logger:  logger.With(slog.String("component", "breakeven")),
		states:  make(map[string]*beState),
	}
}

// SetAlerter attaches the operator alert channel. May be left unset.
func (b *Breakeven) SetAlerter(a Alerter) {
	b.alerter = a
}

// resolve builds the per-position state. The matching OPEN ledger trade's
// recorded entry and stop-loss are authoritative; when the trade was opened
// outside this system the position's currently-reported stop stands in for the
// original risk, logged as degraded accuracy.
func (b *Breakeven) resolve(ctx context.Context, snap domain.PositionSnapshot) (*beState, error) {
	st := &beState{direction: snap.Side}

	trade, err := b.trades.GetOpenByBrokerPositionID(ctx, snap.ID)
	switch {
	case err == nil:
		st.entryPrice = trade.EntryPrice
		st.originalSL = trade.StopLoss
	case errors.Is(err, domain.ErrNotFound):
		if snap.StopLoss == 0 {
			return nil, fmt.Errorf("breakeven: position %s: %w", snap.ID, domain.ErrInsufficientRiskInfo)
		}
		st.entryPrice = snap.OpenPrice
		st.originalSL = snap.StopLoss
		st.degraded = true
		b.logger.WarnContext(ctx, "no ledger trade for position, using reported stop as original risk",
			slog.String("position_id", snap.ID),
			slog.String("symbol", snap.Symbol),
		)
	default:
		return nil, fmt.Errorf("breakeven: resolve risk info for %s: %w", snap.ID, err)
	}

	st.riskDistance = (st.entryPrice - st.originalSL) * st.direction.Sign()
	if st.riskDistance <= 0 {
		return nil, fmt.Errorf("breakeven: position %s: %w", snap.ID, domain.ErrInsufficientRiskInfo)
	}
	return st, nil
}

// Check evaluates one position against the trigger. Idempotent: once MOVED,
// further calls issue no broker mutations. A failed broker call leaves the
// state TRACKING so the check retries on the next batch.
func (b *Breakeven) Check(ctx context.Context, snap domain.PositionSnapshot) error {
	st, ok := b.states[snap.ID]
	if !ok {
		resolved, err := b.resolve(ctx, snap)
		if err != nil {
			return err
		}
		st = resolved
		b.states[snap.ID] = st
	}
	if st.phase == beMoved {
		return nil
	}

	r := (snap.CurrentPrice - st.entryPrice) * st.direction.Sign() / st.riskDistance
	if r < b.cfg.TriggerR {
		return nil
	}

	info, err := b.symbols.GetSymbolInfo(ctx, snap.Symbol)
	if err != nil {
		return fmt.Errorf("breakeven: symbol info %s: %w", snap.Symbol, err)
	}

	candidate := st.entryPrice + st.direction.Sign()*b.cfg.BufferPips*info.PipSize

	// Covers manually-adjusted or already-better stops, and avoids
	// double-writes on startup reconciliation.
	if !StrictlyBetterStop(st.direction, candidate, snap.StopLoss) {
		st.phase = beMoved
		b.logger.InfoContext(ctx, "stop already at or beyond breakeven, no call issued",
			slog.String("position_id", snap.ID),
			slog.Float64("candidate", candidate),
			slog.Float64("current_sl", snap.StopLoss),
		)
		return nil
	}

	if err := b.broker.ModifyPosition(ctx, snap.ID, &candidate, nil); err != nil {
		metrics.BrokerCallFailed("modify_position")
		b.logger.WarnContext(ctx, "breakeven stop move failed, will retry on next batch",
			slog.String("position_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("breakeven: move stop for %s: %w", snap.ID, err)
	}

	st.phase = beMoved
	metrics.BreakevenMoved()
	if b.alerter != nil {
		if err := b.alerter.BreakevenMoved(ctx, snap.Symbol, snap.ID, candidate); err != nil {
			b.logger.WarnContext(ctx, "breakeven alert failed", slog.String("error", err.Error()))
		}
	}
	b.logger.InfoContext(ctx, "stop-loss moved to breakeven",
		slog.String("position_id", snap.ID),
		slog.String("symbol", snap.Symbol),
		slog.Float64("new_sl", candidate),
		slog.Float64("current_r", r),
		slog.Bool("degraded_risk_info", st.degraded),
	)
	return nil
}

// Forget destroys the state for a closed position.
func (b *Breakeven) Forget(positionID string) {
	delete(b.states, positionID)
}

// Rebuild reconstructs state for every live position after a restart. Errors
// for individual positions are logged and skipped; the rest proceed.
func (b *Breakeven) Rebuild(ctx context.Context, snaps []domain.PositionSnapshot) {
	for _, snap := range snaps {
		if _, ok := b.states[snap.ID]; ok {
			continue
		}
		st, err := b.resolve(ctx, snap)
		if err != nil {
			b.logger.WarnContext(ctx, "skipping position during rebuild",
				slog.String("position_id", snap.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		b.states[snap.ID] = st
	}
	b.logger.InfoContext(ctx, "breakeven state rebuilt", slog.Int("positions", len(b.states)))
}

// Tracked returns the number of positions with live state.
func (b *Breakeven) Tracked() int {
	return len(b.states)
}
