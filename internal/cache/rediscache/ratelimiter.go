package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// publishWindowTTL переживает минутное окно, чтобы ключ не пропал на границе минуты.
const publishWindowTTL = 70 * time.Second

// PublishWindowKey ключ минутного бюджета публикаций в топик.
func PublishWindowKey(topic string, at time.Time) string {
	return fmt.Sprintf("rl:topic:%s:%s", topic, at.UTC().Format("200601021504"))
}

// AllowPublish тратит единицу бюджета топика в минуте at.
func (rl *RateLimiter) AllowPublish(ctx context.Context, topic string, at time.Time, perMinute int64) (bool, int64, error) {
	allowed, n, err := rl.Allow(ctx, PublishWindowKey(topic, at), perMinute, publishWindowTTL)
	if err != nil {
		return false, 0, errors.Wrapf(err, "publish budget of %s", topic)
	}
	return allowed, n, nil
}

// Allow делает INCR по ключу и выставляет TTL окна.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}
