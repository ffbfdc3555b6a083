package domain

import "time"

// PositionSnapshot is the broker's live view of one open exposure, replaced
// wholesale on every push. It is never persisted directly; the TradeLedger
// owns the durable record.
type PositionSnapshot struct {
	ID           string
	Symbol       string
	Side         Direction
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Profit       float64
	Swap         float64
	OpenTime     time.Time
	Comment      string
}

// CurrentR is the signed favorable price movement expressed as a multiple of
// the given risk distance. Returns 0 when riskDistance is not positive.
func (p PositionSnapshot) CurrentR(riskDistance float64) float64 {
	if riskDistance <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.OpenPrice) * p.Side.Sign() / riskDistance
}

// PositionUpdateBatch is one sequential delivery from the broker connector:
// the full refreshed snapshots plus the ids of positions the broker reports
// as gone. Removal entries may omit final price and profit, which is why the
// router keeps a last-known-state cache.
type PositionUpdateBatch struct {
	Updated    []PositionSnapshot
	RemovedIDs []string
}

// SymbolInfo carries the instrument parameters needed for stop and volume
// arithmetic.
type SymbolInfo struct {
	Symbol     string
	PipSize    float64
	VolumeStep float64
	MinVolume  float64
	Digits     int
}

// Candle is a single OHLC bar of the recent price window used by the
// structure-trailing calculator.
type Candle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}
