package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNonceNotFound = errors.New("nonce not found or expired")

// NonceStore holds one pending login nonce per address. Take is
// single-use: a nonce can be redeemed at most once.
type NonceStore interface {
	Put(ctx context.Context, addr, nonce string, ttl time.Duration) error
	Take(ctx context.Context, addr string) (string, error)
}

func nonceKey(addr string) string {
	return "nonce:" + strings.ToLower(addr)
}

type RedisNonceStore struct {
	rdb *redis.Client
}

func NewRedisNonceStore(rdb *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{rdb: rdb}
}

func (s *RedisNonceStore) Put(ctx context.Context, addr, nonce string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, nonceKey(addr), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("error storing nonce: %w", err)
	}
	return nil
}

func (s *RedisNonceStore) Take(ctx context.Context, addr string) (string, error) {
	nonce, err := s.rdb.GetDel(ctx, nonceKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNonceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error reading nonce: %w", err)
	}
	return nonce, nil
}

type memoryNonce struct {
	value   string
	expires time.Time
}

type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]memoryNonce
	now    func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]memoryNonce), now: time.Now}
}

func (s *MemoryNonceStore) Put(_ context.Context, addr, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, n := range s.nonces {
		if now.After(n.expires) {
			delete(s.nonces, k)
		}
	}
	s.nonces[nonceKey(addr)] = memoryNonce{value: nonce, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryNonceStore) Take(_ context.Context, addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nonceKey(addr)
	n, ok := s.nonces[key]
	delete(s.nonces, key)
	if !ok || s.now().After(n.expires) {
		return "", ErrNonceNotFound
	}
	return n.value, nil
}
