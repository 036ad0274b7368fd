package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// RateLimitResult is the outcome of one check-and-increment.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
}

// RateLimiter enforces per-user per-channel delivery quotas over two
// concurrent fixed windows (hourly and daily), both aligned to clock
// boundaries with no partial credit on rollover. Check is a single
// atomic check-and-increment per key.
type RateLimiter interface {
	Check(ctx context.Context, userID string, ch model.Channel) (RateLimitResult, error)
}

// checkAndIncrScript admits the attempt only when both windows have
// room, and increments both counters in the same script so concurrent
// delivery attempts for the same user/channel cannot race the counts
// past the limit.
var checkAndIncrScript = redis.NewScript(`
local hl = tonumber(ARGV[1])
local dl = tonumber(ARGV[2])
local h = tonumber(redis.call('GET', KEYS[1]) or '0')
local d = tonumber(redis.call('GET', KEYS[2]) or '0')
local remh = hl - h
local remd = dl - d
if remh < 0 then remh = 0 end
if remd < 0 then remd = 0 end
local rem = remh
if remd < rem then rem = remd end
if h >= hl or d >= dl then
  return {0, rem}
end
h = redis.call('INCR', KEYS[1])
if h == 1 then redis.call('EXPIRE', KEYS[1], ARGV[3]) end
d = redis.call('INCR', KEYS[2])
if d == 1 then redis.call('EXPIRE', KEYS[2], ARGV[4]) end
remh = hl - h
remd = dl - d
rem = remh
if remd < rem then rem = remd end
return {1, rem}
`)

// RedisRateLimiter implements RateLimiter on Redis fixed windows.
type RedisRateLimiter struct {
	redis       *redis.Client
	hourlyLimit int
	dailyLimit  int
	Now         func() time.Time
}

func NewRedisRateLimiter(rdb *redis.Client, hourlyLimit, dailyLimit int) *RedisRateLimiter {
	return &RedisRateLimiter{redis: rdb, hourlyLimit: hourlyLimit, dailyLimit: dailyLimit, Now: time.Now}
}

func (l *RedisRateLimiter) Check(ctx context.Context, userID string, ch model.Channel) (RateLimitResult, error) {
	if l.redis == nil {
		return RateLimitResult{}, fmt.Errorf("redis client is nil")
	}
	now := l.Now().UTC()
	hourKey := fmt.Sprintf("rl:%s:%s:h:%s", userID, ch, now.Format("2006010215"))
	dayKey := fmt.Sprintf("rl:%s:%s:d:%s", userID, ch, now.Format("20060102"))
	hourTTL := int(now.Truncate(time.Hour).Add(time.Hour).Sub(now).Seconds()) + 60
	dayTTL := int(now.Truncate(24*time.Hour).Add(24*time.Hour).Sub(now).Seconds()) + 60

	vals, err := checkAndIncrScript.Run(ctx, l.redis,
		[]string{hourKey, dayKey},
		l.hourlyLimit, l.dailyLimit, hourTTL, dayTTL).Int64Slice()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit check %s/%s: %w", userID, ch, err)
	}
	if len(vals) != 2 {
		return RateLimitResult{}, fmt.Errorf("rate limit check %s/%s: unexpected reply %v", userID, ch, vals)
	}
	return RateLimitResult{Allowed: vals[0] == 1, Remaining: int(vals[1])}, nil
}

// MemoryRateLimiter is an in-process RateLimiter for tests and
// single-node runs.
type MemoryRateLimiter struct {
	mu          sync.Mutex
	counts      map[string]int
	hourlyLimit int
	dailyLimit  int
	Now         func() time.Time
}

func NewMemoryRateLimiter(hourlyLimit, dailyLimit int) *MemoryRateLimiter {
	return &MemoryRateLimiter{counts: map[string]int{}, hourlyLimit: hourlyLimit, dailyLimit: dailyLimit, Now: time.Now}
}

func (l *MemoryRateLimiter) Check(_ context.Context, userID string, ch model.Channel) (RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now().UTC()
	hourKey := fmt.Sprintf("%s:%s:h:%s", userID, ch, now.Format("2006010215"))
	dayKey := fmt.Sprintf("%s:%s:d:%s", userID, ch, now.Format("20060102"))
	h, d := l.counts[hourKey], l.counts[dayKey]
	rem := min(l.hourlyLimit-h, l.dailyLimit-d)
	if rem < 0 {
		rem = 0
	}
	if h >= l.hourlyLimit || d >= l.dailyLimit {
		return RateLimitResult{Allowed: false, Remaining: rem}, nil
	}
	l.counts[hourKey] = h + 1
	l.counts[dayKey] = d + 1
	return RateLimitResult{Allowed: true, Remaining: min(l.hourlyLimit-h-1, l.dailyLimit-d-1)}, nil
}
