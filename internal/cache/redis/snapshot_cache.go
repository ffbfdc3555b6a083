package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache using Redis string values.
// Each position snapshot is stored as JSON at key "position:{positionID}".
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

func positionKey(positionID string) string {
	return "position:" + positionID
}

// Set stores the latest snapshot for a position, replacing any previous one.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.PositionSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.ID, err)
	}
	if err := sc.rdb.Set(ctx, positionKey(snap.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Get retrieves the last-known snapshot for a position.
// It returns domain.ErrNotFound when the key does not exist.
func (sc *SnapshotCache) Get(ctx context.Context, positionID string) (domain.PositionSnapshot, error) {
	payload, err := sc.rdb.Get(ctx, positionKey(positionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PositionSnapshot{}, domain.ErrNotFound
		}
		return domain.PositionSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", positionID, err)
	}

	var snap domain.PositionSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", positionID, err)
	}
	return snap, nil
}

// Delete evicts a position snapshot. Deleting an absent key is not an error.
func (sc *SnapshotCache) Delete(ctx context.Context, positionID string) error {
	if err := sc.rdb.Del(ctx, positionKey(positionID)).Err(); err != nil {
		return fmt.Errorf("redis: delete snapshot %s: %w", positionID, err)
	}
	return nil
}

// All returns every cached position snapshot, iterating keys with SCAN so
// large keyspaces do not block the server.
func (sc *SnapshotCache) All(ctx context.Context) ([]domain.PositionSnapshot, error) {
	var snaps []domain.PositionSnapshot

	iter := sc.rdb.Scan(ctx, 0, positionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		payload, err := sc.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("redis: get snapshot %s: %w", iter.Val(), err)
		}
		var snap domain.PositionSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("redis: decode snapshot %s: %w", iter.Val(), err)
		}
		snaps = append(snaps, snap)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan snapshots: %w", err)
	}
	return snaps, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
