package domain

import "context"

// SnapshotCache is the last-known-state cache of broker position snapshots,
// keyed by position id. The router needs it because removal events may omit
// the final price and profit. Entries are replaced wholesale on update and
// evicted on close; All supports restart rebuilds.
type SnapshotCache interface {
	Set(ctx context.Context, snap PositionSnapshot) error
	Get(ctx context.Context, positionID string) (PositionSnapshot, error)
	Delete(ctx context.Context, positionID string) error
	All(ctx context.Context) ([]PositionSnapshot, error)
}

// SignalBus is a fire-and-forget event channel. Delivery failures must never
// affect ledger or controller state; publishers treat errors as log-only.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
