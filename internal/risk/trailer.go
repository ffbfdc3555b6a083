package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/metrics"
)

// CandleSource provides the recent price window for structure detection.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
}

// TrailerConfig tunes the structure-trailing controller.
type TrailerConfig struct {
	Profile TrailProfile
	// Timeframe is the connector bar size for the structure window, e.g. "M5".
	Timeframe string
	// WindowSize is how many bars to request per check.
	WindowSize int
}

type trailState struct {
	entryPrice   float64
	direction    domain.Direction
	riskDistance float64
	degraded     bool
}

// Trailer ratchets a position's stop-loss behind confirmed price structure.
// Unlike breakeven it has no terminal phase; every batch can tighten the stop
// further, and the strictly-better gate keeps it from ever loosening.
type Trailer struct {
	cfg     TrailerConfig
	broker  PositionModifier
	symbols SymbolInfoSource
	candles CandleSource
	trades  TradeSource
	logger  *slog.Logger

	states map[string]*trailState
}

// NewTrailer creates the controller.
func NewTrailer(
	cfg TrailerConfig,
	broker PositionModifier,
	symbols SymbolInfoSource,
	candles CandleSource,
	trades TradeSource,
	logger *slog.Logger,
) *Trailer {
	if cfg.Timeframe == "" {
		cfg.Timeframe = "M5"
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	return &Trailer{
		cfg:     cfg,
		broker:  broker,
		symbols: symbols,
		candles: candles,
		trades:  trades,
		logger:  logger.With(slog.String("component", "trailer")),
		states:  make(map[string]*trailState),
	}
}

// resolve builds the per-position state, preferring the ledger trade's
// recorded risk over the broker-reported stop.
func (t *Trailer) resolve(ctx context.Context, snap domain.PositionSnapshot) (*trailState, error) {
	st := &trailState{direction: snap.Side}

	trade, err := t.trades.GetOpenByBrokerPositionID(ctx, snap.ID)
	switch {
	case err == nil:
		st.entryPrice = trade.EntryPrice
		st.riskDistance = (trade.EntryPrice - trade.StopLoss) * st.direction.Sign()
	case errors.Is(err, domain.ErrNotFound):
		if snap.StopLoss == 0 {
			return nil, fmt.Errorf("trailer: position %s: %w", snap.ID, domain.ErrInsufficientRiskInfo)
		}
		st.entryPrice = snap.OpenPrice
		st.riskDistance = (snap.OpenPrice - snap.StopLoss) * st.direction.Sign()
		st.degraded = true
		t.logger.WarnContext(ctx, "no ledger trade for position, using reported stop as original risk",
			slog.String("position_id", snap.ID),
			slog.String("symbol", snap.Symbol),
		)
	default:
		return nil, fmt.Errorf("trailer: resolve risk info for %s: %w", snap.ID, err)
	}

	if st.riskDistance <= 0 {
		return nil, fmt.Errorf("trailer: position %s: %w", snap.ID, domain.ErrInsufficientRiskInfo)
	}
	return st, nil
}

// Check evaluates one position. Every call is independent; a failed broker
// call changes nothing and the proposal is recomputed on the next batch.
func (t *Trailer) Check(ctx context.Context, snap domain.PositionSnapshot) error {
	st, ok := t.states[snap.ID]
	if !ok {
		resolved, err := t.resolve(ctx, snap)
		if err != nil {
			return err
		}
		st = resolved
		t.states[snap.ID] = st
	}

	info, err := t.symbols.GetSymbolInfo(ctx, snap.Symbol)
	if err != nil {
		return fmt.Errorf("trailer: symbol info %s: %w", snap.Symbol, err)
	}

	window, err := t.candles.GetCandles(ctx, snap.Symbol, t.cfg.Timeframe, t.cfg.WindowSize)
	if err != nil {
		metrics.BrokerCallFailed("get_candles")
		return fmt.Errorf("trailer: candles %s: %w", snap.Symbol, err)
	}

	res := ProposeTrailingStop(TrailInput{
		Direction:    st.direction,
		EntryPrice:   st.entryPrice,
		CurrentSL:    snap.StopLoss,
		CurrentPrice: snap.CurrentPrice,
		RiskDistance: st.riskDistance,
		PipSize:      info.PipSize,
		Window:       window,
	}, t.cfg.Profile)

	if !res.Move {
		t.logger.DebugContext(ctx, "no trail move",
			slog.String("position_id", snap.ID),
			slog.String("reason", res.Reason),
		)
		return nil
	}

	if err := t.broker.ModifyPosition(ctx, snap.ID, &res.NewStopLoss, nil); err != nil {
		metrics.BrokerCallFailed("modify_position")
		t.logger.WarnContext(ctx, "trail stop move failed, will retry on next batch",
			slog.String("position_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("trailer: move stop for %s: %w", snap.ID, err)
	}

	t.logger.InfoContext(ctx, "stop-loss trailed behind structure",
		slog.String("position_id", snap.ID),
		slog.String("symbol", snap.Symbol),
		slog.Float64("new_sl", res.NewStopLoss),
		slog.Bool("degraded_risk_info", st.degraded),
	)
	return nil
}

// Forget destroys the state for a closed position.
func (t *Trailer) Forget(positionID string) {
	delete(t.states, positionID)
}

// Rebuild reconstructs state for every live position after a restart.
func (t *Trailer) Rebuild(ctx context.Context, snaps []domain.PositionSnapshot) {
	for _, snap := range snaps {
		if _, ok := t.states[snap.ID]; ok {
			continue
		}
		st, err := t.resolve(ctx, snap)
		if err != nil {
			t.logger.WarnContext(ctx, "skipping position during rebuild",
				slog.String("position_id", snap.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		t.states[snap.ID] = st
	}
	t.logger.InfoContext(ctx, "trailer state rebuilt", slog.Int("positions", len(t.states)))
}

// Tracked returns the number of positions with live state.
func (t *Trailer) Tracked() int {
	return len(t.states)
}
