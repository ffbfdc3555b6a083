package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// DrawdownConfig holds the circuit breaker thresholds.
type DrawdownConfig struct {
	// StartBalance is the account balance the loss percentage is measured
	// against.
	StartBalance float64
	// MaxLossPercent locks a scope once its cumulative loss reaches this
	// percentage of StartBalance.
	MaxLossPercent float64
	// Window is the rolling accumulation window and the lock duration.
	Window time.Duration
}

// DefaultDrawdownWindow is the rolling window and lock duration used when the
// config leaves Window zero.
const DefaultDrawdownWindow = 12 * time.Hour

type ddWindow struct {
	start       time.Time
	loss        float64
	lockedUntil time.Time // zero when unlocked
}

// DrawdownBreaker tracks rolling-window losses per symbol plus one global
// window and locks trading on breach. Lock expiry is lazy: windows are rolled
// and locks cleared on read, never by a background timer, so lock state is
// always consistent with "now" at the instant it is consulted.
type DrawdownBreaker struct {
	cfg     DrawdownConfig
	store   domain.DrawdownStore // optional write-through, may be nil
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	windows map[string]*ddWindow
}

// NewDrawdownBreaker creates a breaker. store may be nil; when present every
// increment is written through so the windows survive for audit and rebuild.
func NewDrawdownBreaker(cfg DrawdownConfig, store domain.DrawdownStore, logger *slog.Logger) *DrawdownBreaker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultDrawdownWindow
	}
	return &DrawdownBreaker{
		cfg:     cfg,
		store:   store,
		logger:  logger.With(slog.String("component", "drawdown_breaker")),
		now:     time.Now,
		windows: make(map[string]*ddWindow),
	}
}

// SetAlerter attaches the operator alert channel. May be left unset.
func (b *DrawdownBreaker) SetAlerter(a Alerter) {
	b.alerter = a
}

// MaxLoss is the absolute loss threshold per scope.
func (b *DrawdownBreaker) MaxLoss() float64 {
	return b.cfg.StartBalance * b.cfg.MaxLossPercent / 100
}

// window returns the accumulator for scope, rolling it forward and clearing an
// expired lock first. Caller holds b.mu.
func (b *DrawdownBreaker) window(scope string, now time.Time) *ddWindow {
	w, ok := b.windows[scope]
	if !ok {
		w = &ddWindow{start: now}
		b.windows[scope] = w
		return w
	}
	if !w.lockedUntil.IsZero() && !now.Before(w.lockedUntil) {
		w.lockedUntil = time.Time{}
		w.loss = 0
		w.start = now
	}
	if now.Sub(w.start) >= b.cfg.Window {
		w.loss = 0
		w.start = now
	}
	return w
}

// RecordLoss adds a realized loss to the symbol's window and the global
// window. Amount is the positive loss magnitude; non-positive amounts are
// ignored. A scope whose cumulative loss reaches the threshold is locked for
// one full window.
func (b *DrawdownBreaker) RecordLoss(ctx context.Context, symbol string, amount float64) {
	if amount <= 0 {
		return
	}
	now := b.now()

	type trippedScope struct {
		scope string
		loss  float64
	}
	var tripped []trippedScope

	b.mu.Lock()
	for _, scope := range []string{symbol, domain.ScopeGlobal} {
		w := b.window(scope, now)
		w.loss += amount
		if w.lockedUntil.IsZero() && w.loss >= b.MaxLoss() {
			w.lockedUntil = now.Add(b.cfg.Window)
			tripped = append(tripped, trippedScope{scope: scope, loss: w.loss})
			b.logger.WarnContext(ctx, "drawdown threshold breached, locking scope",
				slog.String("scope", scope),
				slog.Float64("loss", w.loss),
				slog.Float64("max_loss", b.MaxLoss()),
				slog.Time("locked_until", w.lockedUntil),
			)
		}
		b.persist(ctx, scope, w)
	}
	b.mu.Unlock()

	// Alerts go out after the lock is released; senders may do network IO.
	if b.alerter != nil {
		for _, ts := range tripped {
			if err := b.alerter.TradingLocked(ctx, ts.scope, ts.loss, b.MaxLoss()); err != nil {
				b.logger.WarnContext(ctx, "lock alert failed",
					slog.String("scope", ts.scope),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// persist writes the window through to the store, log-only on failure. Caller
// holds b.mu.
func (b *DrawdownBreaker) persist(ctx context.Context, scope string, w *ddWindow) {
	if b.store == nil {
		return
	}
	rec := domain.DrawdownWindow{
		Scope:          scope,
		StartBalance:   b.cfg.StartBalance,
		CumulativeLoss: w.loss,
		WindowStart:    w.start,
		UpdatedAt:      b.now(),
	}
	if !w.lockedUntil.IsZero() {
		lu := w.lockedUntil
		rec.LockedUntil = &lu
	}
	if err := b.store.Upsert(ctx, rec); err != nil {
		b.logger.WarnContext(ctx, "persist drawdown window failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
	}
}

// Load rehydrates the in-memory windows from the store so locks and
// accumulated losses survive a restart. No-op when no store is configured.
// Expired windows and locks are rolled lazily on the next read as usual.
func (b *DrawdownBreaker) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	recs, err := b.store.List(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range recs {
		w := &ddWindow{start: rec.WindowStart, loss: rec.CumulativeLoss}
		if rec.LockedUntil != nil {
			w.lockedUntil = *rec.LockedUntil
		}
		b.windows[rec.Scope] = w
	}
	b.logger.InfoContext(ctx, "drawdown windows restored", slog.Int("count", len(recs)))
	return nil
}

// IsLocked reports whether the given scope is currently locked, clearing an
// expired lock in the process.
func (b *DrawdownBreaker) IsLocked(scope string) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	w := b.window(scope, now)
	return !w.lockedUntil.IsZero() && now.Before(w.lockedUntil)
}

// IsSymbolLocked reports whether trading the symbol is blocked, either by the
// symbol's own window or by the global window.
func (b *DrawdownBreaker) IsSymbolLocked(symbol string) bool {
	return b.IsLocked(symbol) || b.IsLocked(domain.ScopeGlobal)
}

// Status returns a read-only snapshot of every tracked window.
func (b *DrawdownBreaker) Status() domain.DrawdownStatus {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	st := domain.DrawdownStatus{
		StartBalance:    b.cfg.StartBalance,
		MaxLossPerScope: b.MaxLoss(),
	}
	for scope := range b.windows {
		w := b.window(scope, now)
		if scope == domain.ScopeGlobal {
			st.GlobalLoss = w.loss
			st.GlobalLocked = !w.lockedUntil.IsZero() && now.Before(w.lockedUntil)
			continue
		}
		if !w.lockedUntil.IsZero() && now.Before(w.lockedUntil) {
			st.Locks = append(st.Locks, domain.SymbolLock{
				Scope:       scope,
				LockedUntil: w.lockedUntil,
				Loss:        w.loss,
			})
		}
	}
	return st
}
