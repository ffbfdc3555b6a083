// Package notify delivers operator alerts for trade lifecycle events.
// Notifications fan out to every registered sender (Telegram, Discord) and can
// be filtered by event type so operators receive only the alerts they care
// about. Delivery is best-effort; the engine never blocks on a sender.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the engine.
const (
	EventTradeOpened   = "trade_opened"
	EventTradeClosed   = "trade_closed"
	EventTierHit       = "tier_hit"
	EventBreakeven     = "breakeven"
	EventTradingLocked = "trading_locked"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; typed helpers only forward messages whose event type
// is in the allowed set. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded. If events
// is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// TradeOpened reports a newly recorded trade.
func (n *Notifier) TradeOpened(ctx context.Context, symbol, direction, strategy string, entry, lot float64) error {
	return n.notify(ctx, EventTradeOpened, "Trade Opened",
		fmt.Sprintf("%s %s %.2f lot @ %.5f (%s)", symbol, direction, lot, entry, strategy))
}

// TradeClosed reports a trade close observed via a removal event. It satisfies
// the engine's CloseNotifier.
func (n *Notifier) TradeClosed(ctx context.Context, symbol, positionID string, price, profit float64) error {
	return n.notify(ctx, EventTradeClosed, "Trade Closed",
		fmt.Sprintf("%s position %s closed @ %.5f, PnL %.2f", symbol, positionID, price, profit))
}

// TierHit reports a partial take-profit execution.
func (n *Notifier) TierHit(ctx context.Context, symbol string, tier int, closedVolume, price float64) error {
	return n.notify(ctx, EventTierHit, fmt.Sprintf("TP%d Hit", tier),
		fmt.Sprintf("%s closed %.2f lot @ %.5f", symbol, closedVolume, price))
}

// BreakevenMoved reports a stop loss moved to breakeven.
func (n *Notifier) BreakevenMoved(ctx context.Context, symbol, positionID string, newSL float64) error {
	return n.notify(ctx, EventBreakeven, "Breakeven",
		fmt.Sprintf("%s position %s stop moved to %.5f", symbol, positionID, newSL))
}

// TradingLocked reports a drawdown circuit breaker trip.
func (n *Notifier) TradingLocked(ctx context.Context, scope string, loss, maxLoss float64) error {
	return n.notify(ctx, EventTradingLocked, "Trading Locked",
		fmt.Sprintf("scope %s locked: loss %.2f >= limit %.2f", scope, loss, maxLoss))
}

// notify applies the event filter then dispatches to every sender.
func (n *Notifier) notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
