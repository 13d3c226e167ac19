package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"puborch/internal/config"
)

// Limiter is a fixed-window per-platform counter backed by Redis. It guards
// adapter publish calls so one hot platform cannot burn through its API
// quota; the counter is shared across workers.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// New returns nil when no Redis address is configured; a nil limiter allows
// everything.
func New(cfg config.Redis) *Limiter {
	if cfg.Addr == "" || cfg.PublishLimit <= 0 {
		return nil
	}
	log.Info().Str("addr", cfg.Addr).Int("limit", cfg.PublishLimit).Msg("publish rate limiter enabled")
	return &Limiter{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		limit:  cfg.PublishLimit,
		window: cfg.LimitWindow,
	}
}

// Allow reports whether a publish call for the platform may proceed in the
// current window, and whether usage has reached the warning band (80% of the
// limit). Redis errors fail open: publishing matters more than the limit.
func (l *Limiter) Allow(ctx context.Context, platform string) (allowed, nearLimit bool, err error) {
	if l == nil {
		return true, false, nil
	}

	bucket := time.Now().Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("puborch:ratelimit:%s:%d", platform, bucket)

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true, false, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		l.rdb.Expire(ctx, key, l.window)
	}

	return n <= int64(l.limit), n*5 >= int64(l.limit)*4, nil
}
