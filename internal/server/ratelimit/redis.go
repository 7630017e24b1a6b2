package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// redisCounter is the subset of *goredis.Client the limiter needs.
type redisCounter interface {
	Incr(ctx context.Context, key string) *goredis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	PTTL(ctx context.Context, key string) *goredis.DurationCmd
}

// Redis shares windows between replicas through INCR on a key that
// expires with the window.
type Redis struct {
	rdb    redisCounter
	prefix string
	limit  int
	period time.Duration
}

// NewRedis returns a Limiter backed by rdb. Keys are namespaced by prefix.
func NewRedis(rdb redisCounter, prefix string, limit int, period time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, limit: limit, period: period}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := r.prefix + key
	n, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis incr: %w", err)
	}
	// NX keeps the window that the first request opened.
	if err := r.rdb.ExpireNX(ctx, k, r.period).Err(); err != nil {
		return false, 0, fmt.Errorf("redis expire: %w", err)
	}
	if n <= int64(r.limit) {
		return true, 0, nil
	}
	ttl, err := r.rdb.PTTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = r.period
	}
	return false, ttl, nil
}
