package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "loyalty:throttle:"

// Redis counts hits per key in fixed windows stored in Redis, so every
// server process shares the same budget.
type Redis struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
}

var _ Throttle = (*Redis)(nil)

// NewRedis allows limit requests per key in each window.
func NewRedis(client redis.Cmdable, limit int64, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := keyPrefix + key
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle incr: %w", err)
	}
	if n == 1 {
		if err := r.client.PExpire(ctx, k, r.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("throttle expire: %w", err)
		}
	}
	if n <= r.limit {
		return Decision{Allowed: true}, nil
	}

	ttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle ttl: %w", err)
	}
	if ttl < 0 {
		// Key lost its expiry; restore it so the window can close.
		if err := r.client.PExpire(ctx, k, r.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("throttle expire: %w", err)
		}
		ttl = r.window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}
