package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// APYCache stores the latest APY estimate per pool for cheap reads.
type APYCache interface {
	SetAPY(ctx context.Context, pool common.Address, outer, inner *big.Int, ts time.Time) error
	GetAPY(ctx context.Context, pool common.Address) (outer, inner *big.Int, ts time.Time, err error)
}

// RateLimiter counts requests per key across replicas.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one stream entry; ID orders entries.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries engine events between replicas: pub/sub for live
// delivery and a capped stream for replay.
type SignalBus interface {
	PublishEvent(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
