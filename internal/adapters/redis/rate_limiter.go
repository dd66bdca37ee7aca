package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/northwind-consulting/portal/internal/ports"
)

// RateLimiter is a fixed-window attempt counter shared by every instance.
// The first hit of a window sets the key's expiry; later hits only increment.
type RateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRateLimiter creates a limiter whose keys are stored under "ratelimit:".
func NewRateLimiter(client redis.UniversalClient) *RateLimiter {
	return &RateLimiter{client: client, prefix: "ratelimit:"}
}

var _ ports.RateLimiter = (*RateLimiter)(nil)

// Allow records one attempt for key and reports whether it is within limit for the window.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("rate limit key cannot be empty")
	}
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	k := l.prefix + key
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}
