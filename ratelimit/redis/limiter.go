// Package redislimiter is a Redis-backed sliding-window rate limiter shared
// across service replicas.
package redislimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter counts requests per bucket/key in a Redis ZSET keyed by request
// time, so every replica sees the same window.
type Limiter struct {
	rdb    *redis.Client
	limits map[string]Limit
}

// New constructs a limiter over the given Redis client. Buckets without an
// explicit limit fall back to the "default" entry or 100/min.
func New(rdb *redis.Client, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{rdb: rdb, limits: limits}
}

func (l *Limiter) limit(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

// Allow reports whether one more request from key into bucket fits the
// window. The request is recorded first and removed again on denial, so the
// count check and the write ride a single pipeline.
func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("redislimiter: bucket and key required")
	}

	lim := l.limit(bucket)
	now := time.Now().UnixMilli()
	windowStart := now - lim.Window.Milliseconds()
	limitKey := key + ":" + bucket
	// Unique member per request: two requests landing in the same
	// millisecond must count separately, and the compensating ZRem on
	// denial must never remove another request's entry.
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	pipe.ZRemRangeByScore(ctx, limitKey, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(lim.Limit) {
		l.rdb.ZRem(ctx, limitKey, member)
		return false, nil
	}
	return true, nil
}
