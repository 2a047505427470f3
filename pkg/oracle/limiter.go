package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter bounds the oracle call rate. A denied call degrades to the
// uncertain verdict instead of queueing.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter is a per-process token bucket.
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter allows rpm calls per minute with the given burst.
func NewLocalLimiter(rpm, burst int) *LocalLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

// Allow implements Limiter. The key is ignored; the bucket is global to
// the process.
func (l *LocalLimiter) Allow(context.Context, string) (bool, error) {
	return l.limiter.Allow(), nil
}

// tokenBucketScript refills and consumes atomically so multiple engine
// processes share one budget.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter is a shared token bucket for deployments running several
// enforcement processes against one model budget.
type RedisLimiter struct {
	client *redis.Client
	rpm    int
	burst  int
}

// NewRedisLimiter connects to addr and shares an rpm budget across
// processes.
func NewRedisLimiter(addr, password string, db, rpm, burst int) *RedisLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		rpm:    rpm,
		burst:  burst,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.client,
		[]string{"oracle_limiter:" + key},
		float64(l.rpm)/60.0, l.burst, now,
	).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}
