// Package lock holds short-lived per-payment locks in Redis.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

// releaseScript deletes the key only if we still own it, so an expired lock
// taken over by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("payment_lock:%s", key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w: %w", lockKey, models.ErrPersistence, err)
	}
	if !ok {
		return nil, fmt.Errorf("payment %s is already being processed: %w", key, models.ErrConflict)
	}

	return func() {
		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			telemetry.Logger.Warn("Failed to release payment lock",
				zap.String("key", lockKey),
				zap.Error(err),
			)
		}
	}, nil
}
