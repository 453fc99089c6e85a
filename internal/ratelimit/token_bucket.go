package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidLimit = errors.New("invalid_rate_limit")
	ErrEmptyKey     = errors.New("empty_rate_limit_key")
)

// Redis converts Lua numbers to integers on return, so remaining tokens
// come back truncated.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tokens}
`

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Bucket admits one event per call under a (rate, burst) budget per key.
type Bucket interface {
	Allow(ctx context.Context, key string, perSecond float64, burst int) (Result, error)
}

type RedisBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisBucket(client *redis.Client) *RedisBucket {
	return &RedisBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (b *RedisBucket) Allow(ctx context.Context, key string, perSecond float64, burst int) (Result, error) {
	if err := validate(key, perSecond, burst); err != nil {
		return Result{}, err
	}

	res, err := b.script.Run(ctx, b.client, []string{key},
		perSecond,
		burst,
		bucketTTL(perSecond, burst).Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 2 {
		return Result{}, errors.New("invalid rate limit script response")
	}

	allowed := toInt64(res[0]) == 1
	remaining := toInt64(res[1])
	out := Result{Allowed: allowed, Remaining: int(remaining)}
	if !allowed {
		out.RetryAfter = refillDelay(float64(remaining), perSecond)
	}
	return out, nil
}

// LocalBucket keeps one limiter per key in process memory.
type LocalBucket struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalBucket() *LocalBucket {
	return &LocalBucket{limiters: make(map[string]*rate.Limiter)}
}

func (b *LocalBucket) Allow(_ context.Context, key string, perSecond float64, burst int) (Result, error) {
	if err := validate(key, perSecond, burst); err != nil {
		return Result{}, err
	}

	b.mu.Lock()
	limiter, ok := b.limiters[key]
	if !ok || limiter.Limit() != rate.Limit(perSecond) || limiter.Burst() != burst {
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		b.limiters[key] = limiter
	}
	b.mu.Unlock()

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Result{}, ErrInvalidLimit
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Result{Allowed: false, RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Remaining: int(limiter.TokensAt(now))}, nil
}

func validate(key string, perSecond float64, burst int) error {
	if key == "" {
		return ErrEmptyKey
	}
	if perSecond <= 0 || burst <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

func bucketTTL(perSecond float64, burst int) time.Duration {
	seconds := math.Ceil((float64(burst) / perSecond) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func refillDelay(tokens, perSecond float64) time.Duration {
	needed := 1 - tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / perSecond * float64(time.Second))
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
