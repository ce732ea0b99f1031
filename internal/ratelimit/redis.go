// internal/ratelimit/redis.go
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCommander interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Redis is a Store backed by a shared Redis instance, for deployments with
// more than one service replica.
type Redis struct {
	client    redisCommander
	namespace string
}

// NewRedis creates a Redis-backed counter store. An empty namespace defaults
// to "devpulse".
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return newRedisFromCommander(client, namespace)
}

func newRedisFromCommander(client redisCommander, namespace string) *Redis {
	if namespace == "" {
		namespace = "devpulse"
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := r.namespace + ":ratelimit:" + key
	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
