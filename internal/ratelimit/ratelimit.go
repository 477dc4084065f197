// Package ratelimit provides fixed-window attempt limiters keyed by caller.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default limits applied when a constructor receives non-positive values.
const (
	DefaultLimit  = 5
	DefaultWindow = time.Minute
)

// Limiter reports whether another attempt under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

func normalize(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return limit, window
}

type bucket struct {
	count   int
	resetAt time.Time
}

// InMemory counts attempts per key inside a single process.
type InMemory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]bucket
}

// NewInMemory returns a process-local limiter.
func NewInMemory(limit int, window time.Duration, now func() time.Time) *InMemory {
	limit, window = normalize(limit, window)
	if now == nil {
		now = time.Now
	}
	return &InMemory{
		limit:   limit,
		window:  window,
		now:     now,
		buckets: make(map[string]bucket),
	}
}

// Allow implements Limiter.
func (l *InMemory) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		l.pruneLocked(now)
		b = bucket{resetAt: now.Add(l.window)}
	}
	b.count++
	l.buckets[key] = b
	return b.count <= l.limit, nil
}

func (l *InMemory) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
		}
	}
}

// Redis shares counters across processes through INCR/EXPIRE. Denied
// attempts repair a counter whose TTL was never set.
type Redis struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

// NewRedis returns a limiter backed by client. Keys are namespaced by prefix.
func NewRedis(client redis.Cmdable, prefix string, limit int, window time.Duration) *Redis {
	limit, window = normalize(limit, window)
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow implements Limiter.
func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + ":" + key
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit expire: %w", err)
		}
		return true, nil
	}
	if n <= int64(l.limit) {
		return true, nil
	}
	// A counter left without a TTL by a failed first EXPIRE would deny forever.
	if err := l.ensureExpiry(ctx, k); err != nil {
		return false, err
	}
	return false, nil
}

func (l *Redis) ensureExpiry(ctx context.Context, key string) error {
	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ratelimit ttl: %w", err)
	}
	if ttl != -1 {
		return nil
	}
	if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
		return fmt.Errorf("ratelimit expire: %w", err)
	}
	return nil
}

// OpenRedis parses url and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
