// Package ledger implements the TradeLedger: the authoritative persisted
// record of trades, its reconciliation against broker-reported positions,
// historical-deal import, and the pre-trade risk gate backed by the drawdown
// circuit breaker.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/risk"
)

// ClosedExternallyMarker is recorded verbatim on trades closed during
// reconciliation, where the broker no longer reports the position and the
// final price is unknown. No price or pnl is ever fabricated next to it.
const ClosedExternallyMarker = "closed externally, price unknown"

// Config holds the pre-trade limits enforced by CanOpenTrade.
type Config struct {
	MaxOpenTrades int
	MaxPerSymbol  int
	// BlockOppositeDirection rejects a trade when an OPEN trade on the same
	// symbol already points the other way.
	BlockOppositeDirection bool
	// MaxWindowLoss is the trailing-12-hour loss ceiling computed fresh from
	// persisted CLOSED trades on every CanOpenTrade call. Independent of the
	// in-memory breaker so it survives restarts. Zero disables the check.
	MaxWindowLoss float64
	// LossWindow is the trailing window for MaxWindowLoss.
	LossWindow time.Duration
}

// OpenNotifier receives the best-effort operator alert for a newly recorded
// trade.
type OpenNotifier interface {
	TradeOpened(ctx context.Context, symbol, direction, strategy string, entry, lot float64) error
}

// Ledger is the trade ledger service.
type Ledger struct {
	trades   domain.TradeStore
	breaker  *risk.DrawdownBreaker
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier OpenNotifier
	cfg      Config
	logger   *slog.Logger
}

// New creates a Ledger. audit and bus may be nil; both are best-effort.
func New(
	trades domain.TradeStore,
	breaker *risk.DrawdownBreaker,
	audit domain.AuditStore,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Ledger {
	if cfg.LossWindow <= 0 {
		cfg.LossWindow = risk.DefaultDrawdownWindow
	}
	return &Ledger{
		trades:  trades,
		breaker: breaker,
		audit:   audit,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "trade_ledger")),
	}
}

// SetNotifier attaches the operator alert channel. May be left unset.
func (l *Ledger) SetNotifier(n OpenNotifier) {
	l.notifier = n
}

// Breaker exposes the drawdown circuit breaker.
func (l *Ledger) Breaker() *risk.DrawdownBreaker {
	return l.breaker
}

// RecordTrade persists a new OPEN trade. A missing id is assigned; open time
// defaults to now.
func (l *Ledger) RecordTrade(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.OpenTime.IsZero() {
		t.OpenTime = time.Now().UTC()
	}
	t.Status = domain.TradeStatusOpen

	if t.BrokerPositionID != nil {
		// At most one OPEN trade per broker position id.
		if _, err := l.trades.GetOpenByBrokerPositionID(ctx, *t.BrokerPositionID); err == nil {
			return domain.Trade{}, fmt.Errorf("trade_ledger: position %s: %w", *t.BrokerPositionID, domain.ErrAlreadyExists)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("trade_ledger: check open trade: %w", err)
		}
	}

	if err := l.trades.Create(ctx, t); err != nil {
		return domain.Trade{}, fmt.Errorf("trade_ledger: record trade: %w", err)
	}

	l.publishEvent(ctx, "trade_opened", map[string]any{
		"trade_id":  t.ID,
		"symbol":    t.Symbol,
		"direction": string(t.Direction),
		"entry":     t.EntryPrice,
		"lot_size":  t.LotSize,
		"strategy":  t.StrategyTag,
	})
	if l.notifier != nil {
		if err := l.notifier.TradeOpened(ctx, t.Symbol, string(t.Direction), t.StrategyTag, t.EntryPrice, t.LotSize); err != nil {
			l.logger.WarnContext(ctx, "trade open alert failed", slog.String("error", err.Error()))
		}
	}
	l.logger.InfoContext(ctx, "trade recorded",
		slog.String("trade_id", t.ID),
		slog.String("symbol", t.Symbol),
		slog.String("direction", string(t.Direction)),
		slog.Float64("entry", t.EntryPrice),
	)
	return t, nil
}

// CloseTrade closes a trade by ledger id at the given price, computing the
// realized pnl from the recorded entry and lot size.
func (l *Ledger) CloseTrade(ctx context.Context, id string, price float64, at time.Time) error {
	t, err := l.trades.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("trade_ledger: get trade %s: %w", id, err)
	}
	if !t.IsOpen() {
		return nil // already closed, idempotent
	}

	pnl := (price - t.EntryPrice) * t.Direction.Sign() * t.LotSize
	if err := l.trades.Close(ctx, id, domain.TradeClose{
		Price: &price,
		PnL:   &pnl,
		Time:  at,
	}); err != nil {
		return fmt.Errorf("trade_ledger: close trade %s: %w", id, err)
	}
	l.afterClose(ctx, t, &price, &pnl)
	return nil
}

// CloseTradeFromBroker closes the OPEN trade matching a broker position id
// using the broker-reported final price and profit. Missing trades are logged
// and skipped, never fabricated, so a retried removal event is harmless.
func (l *Ledger) CloseTradeFromBroker(ctx context.Context, positionID string, price, profit float64, at time.Time) error {
	t, err := l.trades.GetOpenByBrokerPositionID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.logger.WarnContext(ctx, "no open trade for removed position, skipping",
				slog.String("position_id", positionID),
			)
			return nil
		}
		return fmt.Errorf("trade_ledger: lookup position %s: %w", positionID, err)
	}

	if err := l.trades.Close(ctx, t.ID, domain.TradeClose{
		Price: &price,
		PnL:   &profit,
		Time:  at,
	}); err != nil {
		return fmt.Errorf("trade_ledger: close trade %s from broker: %w", t.ID, err)
	}
	l.afterClose(ctx, t, &price, &profit)
	return nil
}

// afterClose feeds the circuit breaker and emits best-effort events. Strictly
// post-commit: the close is already durable when this runs.
func (l *Ledger) afterClose(ctx context.Context, t domain.Trade, price, pnl *float64) {
	if pnl != nil && *pnl < 0 {
		l.breaker.RecordLoss(ctx, t.Symbol, -*pnl)
	}

	detail := map[string]any{
		"trade_id": t.ID,
		"symbol":   t.Symbol,
		"strategy": t.StrategyTag,
	}
	if price != nil {
		detail["close_price"] = *price
	}
	if pnl != nil {
		detail["pnl"] = *pnl
	}
	l.publishEvent(ctx, "trade_closed", detail)

	l.logger.InfoContext(ctx, "trade closed",
		slog.String("trade_id", t.ID),
		slog.String("symbol", t.Symbol),
		slog.Any("pnl", pnl),
	)
}

// CanOpenTrade runs the full pre-trade gate for a prospective trade: drawdown
// locks (both the in-memory rolling accumulator and the fresh database
// aggregate), concurrency limits and the contradiction rule. Returns nil when
// the trade may open.
func (l *Ledger) CanOpenTrade(ctx context.Context, symbol string, direction domain.Direction) error {
	if l.breaker.IsSymbolLocked(symbol) {
		return fmt.Errorf("trade_ledger: %s: %w", symbol, domain.ErrTradingLocked)
	}

	// Second, independent drawdown signal: a trailing-window loss ceiling
	// computed from persisted CLOSED trades, so it holds across restarts
	// regardless of the in-memory accumulator.
	if l.cfg.MaxWindowLoss > 0 {
		loss, err := l.trades.SumLossSince(ctx, time.Now().UTC().Add(-l.cfg.LossWindow))
		if err != nil {
			return fmt.Errorf("trade_ledger: window loss aggregate: %w", err)
		}
		if loss >= l.cfg.MaxWindowLoss {
			l.logger.WarnContext(ctx, "trailing loss ceiling reached",
				slog.Float64("loss", loss),
				slog.Float64("ceiling", l.cfg.MaxWindowLoss),
			)
			return fmt.Errorf("trade_ledger: trailing loss %.2f >= ceiling %.2f: %w",
				loss, l.cfg.MaxWindowLoss, domain.ErrTradingLocked)
		}
	}

	if l.cfg.MaxOpenTrades > 0 {
		n, err := l.trades.CountOpen(ctx)
		if err != nil {
			return fmt.Errorf("trade_ledger: count open: %w", err)
		}
		if n >= l.cfg.MaxOpenTrades {
			return fmt.Errorf("trade_ledger: %d open trades: %w", n, domain.ErrTradeLimitReached)
		}
	}

	if l.cfg.MaxPerSymbol > 0 {
		n, err := l.trades.CountOpenBySymbol(ctx, symbol)
		if err != nil {
			return fmt.Errorf("trade_ledger: count open for %s: %w", symbol, err)
		}
		if n >= l.cfg.MaxPerSymbol {
			return fmt.Errorf("trade_ledger: %d open trades on %s: %w", n, symbol, domain.ErrTradeLimitReached)
		}
	}

	if l.cfg.BlockOppositeDirection {
		open, err := l.trades.ListOpen(ctx)
		if err != nil {
			return fmt.Errorf("trade_ledger: list open: %w", err)
		}
		for _, t := range open {
			if t.Symbol == symbol && t.Direction == direction.Opposite() {
				return fmt.Errorf("trade_ledger: %s already open %s: %w", symbol, t.Direction, domain.ErrContradictingTrade)
			}
		}
	}

	return nil
}

// RecordLoss feeds the drawdown circuit breaker directly.
func (l *Ledger) RecordLoss(ctx context.Context, symbol string, amount float64) {
	l.breaker.RecordLoss(ctx, symbol, amount)
}

// IsSymbolLocked reports whether the circuit breaker currently blocks the
// symbol.
func (l *Ledger) IsSymbolLocked(symbol string) bool {
	return l.breaker.IsSymbolLocked(symbol)
}

// publishEvent emits a best-effort event on the signal bus and the audit log.
// Failures never affect ledger state.
func (l *Ledger) publishEvent(ctx context.Context, event string, detail map[string]any) {
	if l.bus != nil {
		payload, _ := json.Marshal(map[string]any{"event": event, "detail": detail})
		if err := l.bus.Publish(ctx, "trades", payload); err != nil {
			l.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if l.audit != nil {
		if err := l.audit.Log(ctx, event, detail); err != nil {
			l.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
