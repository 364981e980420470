package call

import (
	"context"
	"time"

	"marketplace-rtc/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisGate enforces one in-flight call per caller across all API
// instances, using an atomic concurrency cap. The TTL bounds how long a
// leaked slot can linger if a process dies between acquire and release.
type RedisGate struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisGate(rdb *redis.Client, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGate{rdb: rdb, limit: 1, ttl: ttl}
}

func gateKey(userID string) string {
	return "call:inflight:" + userID
}

func (g *RedisGate) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, gateKey(userID), g.limit, g.ttl)
}

func (g *RedisGate) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, gateKey(userID))
}
