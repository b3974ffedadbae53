// Package memorylimiter is a single-node sliding-window rate limiter, the
// fallback when no shared Redis is configured.
package memorylimiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

type bucketState struct {
	// request times in Unix ms, newest last
	timestamps []int64
}

// Limiter counts requests per bucket/key over a sliding window, entirely in
// process memory.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucketState
	now     func() time.Time
}

// New constructs a limiter with the provided per-bucket limits. Buckets
// without an explicit limit fall back to the "default" entry or 100/min.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
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
// window. Denied attempts are not recorded, so a client hammering a full
// bucket does not push its own recovery further out.
func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	_ = ctx
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("memorylimiter: bucket and key required")
	}

	lim := l.limit(bucket)
	nowMs := l.now().UnixMilli()
	windowStart := nowMs - lim.Window.Milliseconds()
	limitKey := key + ":" + bucket

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[limitKey]
	if !ok {
		b = &bucketState{}
		l.buckets[limitKey] = b
	}

	ts := b.timestamps
	pruned := 0
	for pruned < len(ts) && ts[pruned] < windowStart {
		pruned++
	}
	if pruned > 0 {
		ts = ts[pruned:]
	}

	if len(ts) >= lim.Limit {
		b.timestamps = ts
		return false, nil
	}

	b.timestamps = append(ts, nowMs)
	return true, nil
}
