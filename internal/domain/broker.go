package domain

import (
	"context"
	"time"
)

// Broker is the abstract contract to the broker connector. The connector owns
// transport, reconnection and retry; from this core's point of view every call
// either completes or fails atomically. A failed call leaves state untouched
// and the same check runs again on the next event batch.
type Broker interface {
	// GetPositions returns the broker's current open positions.
	GetPositions(ctx context.Context) ([]PositionSnapshot, error)

	// GetSymbolInfo returns instrument parameters for the given symbol.
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	// ModifyPosition updates the stop-loss and/or take-profit of an open
	// position. Nil leaves the corresponding field unchanged.
	ModifyPosition(ctx context.Context, positionID string, stopLoss, takeProfit *float64) error

	// ClosePosition closes the entire remaining volume of a position.
	ClosePosition(ctx context.Context, positionID string) error

	// ClosePositionPartially closes the given volume of a position.
	ClosePositionPartially(ctx context.Context, positionID string, volume float64) error

	// GetCandles returns the most recent OHLC bars for a symbol, oldest
	// first. Timeframe is the connector's bar size identifier, e.g. "M5".
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// GetHistoricalDeals returns raw fills executed between start and end.
	GetHistoricalDeals(ctx context.Context, start, end time.Time) ([]RawDeal, error)
}
