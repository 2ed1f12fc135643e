package webhook

import (
	"context"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupStore answers whether a (provider, event id) pair is seen for the
// first time. Marking and checking are one atomic step.
type DedupStore interface {
	FirstSeen(ctx context.Context, provider, eventID string) (bool, error)
}

// RedisDedup implements DedupStore with SET NX and a TTL. Providers retry
// webhooks within minutes, so an hour of memory is plenty; after expiry the
// idempotent transitions absorb any straggler anyway.
type RedisDedup struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDedup(rdb *redis.Client, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisDedup{rdb: rdb, ttl: ttl}
}

func (d *RedisDedup) FirstSeen(ctx context.Context, provider, eventID string) (bool, error) {
	key := "webhook:" + provider + ":" + eventID
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// fail open: processing twice is safe, dropping an event is not
		logger.Log.Warn("webhook dedup unavailable, processing anyway",
			zap.String("provider", provider), zap.Error(err))
		return true, nil
	}
	return ok, nil
}
