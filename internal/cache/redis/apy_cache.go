package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// apyTTL bounds how long an estimate survives without a fresh sample.
const apyTTL = 24 * time.Hour

// APYCache implements domain.APYCache using Redis hashes. Each pool's latest
// estimate is stored at "apy:{pool}" with fields "outer", "inner" (RAY
// integers as decimal strings) and "ts" (Unix nanoseconds).
type APYCache struct {
	rdb *redis.Client
}

// NewAPYCache creates an APYCache backed by the given Client.
func NewAPYCache(c *Client) *APYCache {
	return &APYCache{rdb: c.rdb}
}

func apyKey(pool common.Address) string {
	return key("apy", pool.Hex())
}

// SetAPY stores the latest estimate for pool.
func (ac *APYCache) SetAPY(ctx context.Context, pool common.Address, outer, inner *big.Int, ts time.Time) error {
	key := apyKey(pool)
	pipe := ac.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeAPY(outer, inner, ts))
	pipe.Expire(ctx, key, apyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set apy %s: %w", pool.Hex(), err)
	}
	return nil
}

// GetAPY returns the latest estimate for pool, or domain.ErrNotFound.
func (ac *APYCache) GetAPY(ctx context.Context, pool common.Address) (*big.Int, *big.Int, time.Time, error) {
	vals, err := ac.rdb.HGetAll(ctx, apyKey(pool)).Result()
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("redis: get apy %s: %w", pool.Hex(), err)
	}
	outer, inner, ts, err := decodeAPY(vals)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("redis: get apy %s: %w", pool.Hex(), err)
	}
	return outer, inner, ts, nil
}

func encodeAPY(outer, inner *big.Int, ts time.Time) map[string]any {
	str := func(x *big.Int) string {
		if x == nil {
			return "0"
		}
		return x.String()
	}
	return map[string]any{
		"outer": str(outer),
		"inner": str(inner),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
}

func decodeAPY(vals map[string]string) (*big.Int, *big.Int, time.Time, error) {
	if len(vals) == 0 {
		return nil, nil, time.Time{}, domain.ErrNotFound
	}
	parse := func(field string) (*big.Int, error) {
		s, ok := vals[field]
		if !ok {
			return nil, domain.ErrNotFound
		}
		x, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("parse %s %q", field, s)
		}
		return x, nil
	}
	outer, err := parse("outer")
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	inner, err := parse("inner")
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return outer, inner, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.APYCache = (*APYCache)(nil)
