package domain

import "time"

// Direction is the side of a position or trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Sign returns +1 for BUY and -1 for SELL, so that
// (price - entry) * Sign() is positive when the move is favorable.
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// TradeStatus tracks the lifecycle of a persisted trade. Transitions are
// monotonic: a CLOSED or CANCELLED trade never reopens.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusClosed    TradeStatus = "CLOSED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

// StrategyTagExternal marks trades whose originating strategy could not be
// determined (opened outside this system, or an unparseable comment).
const StrategyTagExternal = "EXTERNAL"

// Trade is the durable historical record of an exposure. A "position" is the
// broker's live mutable view of the same exposure; at most one OPEN Trade may
// exist per broker position id.
type Trade struct {
	ID               string
	Symbol           string
	Direction        Direction
	StrategyTag      string
	EntryPrice       float64
	StopLoss         float64
	TakeProfit       float64
	LotSize          float64
	OpenTime         time.Time
	CloseTime        *time.Time
	ClosePrice       *float64
	PnL              *float64
	Status           TradeStatus
	BrokerOrderID    *string
	BrokerPositionID *string
	RiskAmount       float64
	RiskRewardRatio  float64
	// Notes is opaque scratch space; the tiered take-profit controller
	// snapshots its per-position state here so it survives restarts.
	Notes *string
}

// RiskDistance is the signed entry-to-stop distance recorded at open. A
// non-positive value means the stop already sits at or past entry (moved
// after open, or recorded inverted), so the original risk can no longer be
// derived from these fields.
func (t Trade) RiskDistance() float64 {
	return (t.EntryPrice - t.StopLoss) * t.Direction.Sign()
}

// IsOpen reports whether the trade is still live.
func (t Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}
