package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeClose carries the terminal values for closing a trade. Price and PnL
// are nil when the broker-reported final values are unknown (external close);
// in that case Reason records the explicit marker instead of fabricated data.
type TradeClose struct {
	Price  *float64
	PnL    *float64
	Time   time.Time
	Reason string
}

// TradeStore persists trades. Mutations are transactional; Close is guarded so
// a trade that is already CLOSED is never closed twice (status transitions are
// monotonic).
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	Update(ctx context.Context, t Trade) error
	UpdateNotes(ctx context.Context, id string, notes string) error
	Close(ctx context.Context, id string, close TradeClose) error
	GetByID(ctx context.Context, id string) (Trade, error)
	// GetOpenByBrokerPositionID returns the single OPEN trade for a broker
	// position id, or ErrNotFound.
	GetOpenByBrokerPositionID(ctx context.Context, positionID string) (Trade, error)
	// GetByBrokerPositionID returns the most recent trade for a broker
	// position id regardless of status, or ErrNotFound.
	GetByBrokerPositionID(ctx context.Context, positionID string) (Trade, error)
	ListOpen(ctx context.Context) ([]Trade, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]Trade, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Trade, error)
	// SumLossSince returns the total absolute loss over CLOSED trades whose
	// close time is at or after since. Winning trades do not offset it.
	SumLossSince(ctx context.Context, since time.Time) (float64, error)
	CountOpen(ctx context.Context) (int, error)
	CountOpenBySymbol(ctx context.Context, symbol string) (int, error)
}

// DrawdownWindow is one rolling loss accumulator, persisted so the in-memory
// breaker can be audited and rebuilt. Scope is a symbol name or ScopeGlobal.
type DrawdownWindow struct {
	Scope          string
	StartBalance   float64
	CumulativeLoss float64
	WindowStart    time.Time
	LockedUntil    *time.Time
	UpdatedAt      time.Time
}

// ScopeGlobal is the account-wide drawdown window scope.
const ScopeGlobal = "GLOBAL"

// DrawdownStore persists drawdown windows with update-if-exists-else-create
// semantics keyed by scope.
type DrawdownStore interface {
	Upsert(ctx context.Context, w DrawdownWindow) error
	Get(ctx context.Context, scope string) (DrawdownWindow, error)
	List(ctx context.Context) ([]DrawdownWindow, error)
}

// AuditStore persists an append-only audit log of ledger and archiver effects.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
