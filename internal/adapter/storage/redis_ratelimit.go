package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/voucher-seckill/internal/clock"
)

// rateLimitScript keeps one sorted-set member per hit scored by its timestamp
// in milliseconds and returns -1 once the window is full.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local member = ARGV[4]
local limit = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, windowMs)
	return count + 1
end
return -1
`)

type RedisRateLimiter struct {
	client redis.UniversalClient
	clock  clock.Clock
	seq    atomic.Uint64
}

func NewRedisRateLimiter(client redis.UniversalClient, c clock.Clock) *RedisRateLimiter {
	if c == nil {
		c = clock.NewSystem()
	}
	return &RedisRateLimiter{client: client, clock: c}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.clock.Now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), r.seq.Add(1))

	res, err := rateLimitScript.Run(ctx, r.client, []string{key},
		nowMs, nowMs-windowMs, windowMs, member, limit).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return res >= 0, nil
}
