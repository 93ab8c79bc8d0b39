package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuditEntry is one audit_log row: a committed engine event or an archive
// run.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. ListBefore returns rows in
// insertion order.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotStore persists virtual price samples. ListRecent returns the
// newest limit rows for pool in ascending timestamp order.
type SnapshotStore interface {
	Insert(ctx context.Context, snap PriceSnapshot) error
	ListRecent(ctx context.Context, pool common.Address, limit int) ([]PriceSnapshot, error)
	ListBefore(ctx context.Context, before time.Time) ([]PriceSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists the latest state of each position.
type PositionStore interface {
	Upsert(ctx context.Context, st PositionState) error
	Get(ctx context.Context, positionID string) (PositionState, error)
}
