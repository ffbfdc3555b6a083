// Package risk implements the per-position risk controllers: the breakeven
// state machine, the tiered take-profit state machine, the structure-trailing
// stop calculator, and the drawdown circuit breaker.
//
// All per-position state is partitioned strictly by broker position id and is
// driven by the single sequential event stream owned by the engine router, so
// the controllers hold no locks of their own. A failed broker call leaves the
// state exactly as it was before the call; the same check runs again on the
// next event batch.
package risk

import (
	"context"
	"math"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// PositionModifier issues stop-loss/take-profit mutations to the broker.
type PositionModifier interface {
	ModifyPosition(ctx context.Context, positionID string, stopLoss, takeProfit *float64) error
}

// PositionCloser issues full and partial closes to the broker.
type PositionCloser interface {
	PositionModifier
	ClosePosition(ctx context.Context, positionID string) error
	ClosePositionPartially(ctx context.Context, positionID string, volume float64) error
}

// SymbolInfoSource resolves instrument parameters.
type SymbolInfoSource interface {
	GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error)
}

// TradeSource is the slice of the trade store the controllers need: the
// authoritative open record per broker position id, and durable scratch space
// for controller state.
type TradeSource interface {
	GetOpenByBrokerPositionID(ctx context.Context, positionID string) (domain.Trade, error)
	UpdateNotes(ctx context.Context, id string, notes string) error
}

// Alerter receives best-effort operator alerts for risk milestones. Alert
// failures never affect controller state or block the event path.
type Alerter interface {
	BreakevenMoved(ctx context.Context, symbol, positionID string, newSL float64) error
	TierHit(ctx context.Context, symbol string, tier int, closedVolume, price float64) error
	TradingLocked(ctx context.Context, scope string, loss, maxLoss float64) error
}

// StrictlyBetterStop reports whether candidate improves on the current
// stop-loss for the given direction. A zero current stop means no stop is set,
// which any candidate improves. Ratchets are only ever issued when this holds,
// so a stop-loss never moves backward.
func StrictlyBetterStop(d domain.Direction, candidate, current float64) bool {
	if current == 0 {
		return true
	}
	if d == domain.DirectionBuy {
		return candidate > current
	}
	return candidate < current
}

// RoundToStep rounds v to the nearest multiple of step. A non-positive step
// returns v unchanged.
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}

// priceReached reports whether current has touched target in the favorable
// direction.
func priceReached(d domain.Direction, current, target float64) bool {
	if d == domain.DirectionBuy {
		return current >= target
	}
	return current <= target
}
