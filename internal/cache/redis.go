package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "activity:"

// Redis is a Cache backed by a shared Redis instance, for deployments where
// several pointsd replicas should share one response cache. Redis owns TTL
// expiry, so Sweep is a no-op.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis constructs a Redis-backed cache.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached payload when present. Redis errors degrade to a
// miss: the cache is advisory.
func (r *Redis) Get(ctx context.Context, activityID int64) ([]byte, bool) {
	b, err := r.client.Get(ctx, redisKey(activityID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("cache get failed", zap.Int64("activity_id", activityID), zap.Error(err))
		}
		recordMiss()
		return nil, false
	}
	recordHit()
	return b, true
}

// Put stores a payload with the configured TTL.
func (r *Redis) Put(ctx context.Context, activityID int64, payload []byte) {
	if err := r.client.Set(ctx, redisKey(activityID), payload, r.ttl).Err(); err != nil {
		r.logger.Warn("cache set failed", zap.Int64("activity_id", activityID), zap.Error(err))
	}
}

// Invalidate removes the entry for the id.
func (r *Redis) Invalidate(ctx context.Context, activityID int64) {
	if err := r.client.Del(ctx, redisKey(activityID)).Err(); err != nil {
		r.logger.Warn("cache invalidate failed", zap.Int64("activity_id", activityID), zap.Error(err))
	}
}

// Sweep is a no-op: Redis expires keys itself.
func (r *Redis) Sweep(context.Context) int { return 0 }

func redisKey(activityID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, activityID)
}
