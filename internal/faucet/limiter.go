package faucet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts mints per key for the current UTC day. Incr returns the
// count after the increment; Decr hands a reserved slot back.
type Limiter interface {
	Incr(ctx context.Context, key string) (int, error)
	Decr(ctx context.Context, key string) (int, error)
}

func dayKey(addr string, now time.Time) string {
	return fmt.Sprintf("faucet:%s:%s", strings.ToLower(strings.TrimSpace(addr)), now.UTC().Format("2006-01-02"))
}

func endOfDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Incr(ctx context.Context, key string) (int, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, endOfDay(time.Now()))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("error incrementing faucet counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (l *RedisLimiter) Decr(ctx context.Context, key string) (int, error) {
	n, err := l.rdb.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("error decrementing faucet counter: %w", err)
	}
	return int(n), nil
}

// MemoryLimiter is used when no Redis is configured. Counters are lost on
// restart.
type MemoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	now    func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counts: make(map[string]int), now: time.Now}
}

func (l *MemoryLimiter) Incr(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// drop counters from previous days
	today := l.now().UTC().Format("2006-01-02")
	for k := range l.counts {
		if !strings.HasSuffix(k, today) {
			delete(l.counts, k)
		}
	}
	l.counts[key]++
	return l.counts[key], nil
}

func (l *MemoryLimiter) Decr(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.counts[key] - 1
	if n <= 0 {
		delete(l.counts, key)
		return 0, nil
	}
	l.counts[key] = n
	return n, nil
}
