package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// Both scripts act only while the key still holds the caller's token, so a
// holder whose lock expired cannot touch the next holder's lock.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

// LockManager implements domain.LockManager with SET NX leases. The oracle
// ping and the archive job take it so only one replica acts per tick. While
// held, a lease is extended every third of its TTL, so an archive run that
// outlasts the TTL keeps its lock.
type LockManager struct {
	rdb    *redis.Client
	logger *slog.Logger
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:    c.rdb,
		logger: logger.With(slog.String("component", "redis_lock")),
	}
}

func lockKey(name string) string {
	return key("lock", name)
}

// Acquire takes the lock called name for ttl, or returns domain.ErrLockHeld.
// The returned unlock stops renewal and releases the lease; it is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	lk := lockKey(name)
	token := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", name, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.renew(lk, token, ttl, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be gone.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, lm.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("redis_lock: release failed",
					slog.String("lock", name),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

// renew extends the lease until stop closes or the lease is lost.
func (lm *LockManager) renew(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(max(ttl/3, 10*time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), ttl/3+time.Second)
		n, err := extendScript.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			lm.logger.Warn("redis_lock: extend failed", slog.String("key", lk), slog.String("error", err.Error()))
		case n == 0:
			lm.logger.Warn("redis_lock: lease lost", slog.String("key", lk))
			return
		}
	}
}
