package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore tracks last-triggered state per alert-condition
// fingerprint. TryAcquire is an atomic set-if-not-already-set within
// the window: it returns true exactly once per fingerprint per ttl,
// even under concurrent evaluation passes. A ttl <= 0 means the mark
// never expires (used for visited-once milestones).
type CooldownStore interface {
	TryAcquire(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}

// RedisCooldownStore implements CooldownStore with a single SET NX,
// which is the conditional-write atomicity the invariant requires.
type RedisCooldownStore struct {
	redis *redis.Client
}

func NewRedisCooldownStore(rdb *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{redis: rdb}
}

func (s *RedisCooldownStore) TryAcquire(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	if s.redis == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := "alert:cooldown:" + fingerprint
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown set %s: %w", fingerprint, err)
	}
	return ok, nil
}

// MemoryCooldownStore is an in-process CooldownStore for tests and
// single-node runs. Now is injectable so tests can advance time.
type MemoryCooldownStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	Now     func() time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{expires: map[string]time.Time{}, Now: time.Now}
}

func (s *MemoryCooldownStore) TryAcquire(_ context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if exp, ok := s.expires[fingerprint]; ok {
		if exp.IsZero() || now.Before(exp) {
			return false, nil
		}
	}
	if ttl <= 0 {
		s.expires[fingerprint] = time.Time{} // never expires
	} else {
		s.expires[fingerprint] = now.Add(ttl)
	}
	return true, nil
}
