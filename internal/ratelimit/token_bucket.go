package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining float64
	// RetryAfter is how long until one token is available again. Zero when
	// the request was allowed or the bucket never refills.
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket shared by every API replica.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket builds a bucket holding capacity tokens that refills at
// refillPerSecond. Idle buckets expire after ttl.
func NewTokenBucket(client *redis.Client, prefix string, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow takes one token from the bucket named key.
func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	args := []any{b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()}
	reply, err := takeToken.Run(ctx, b.client, []string{b.prefix + key}, args...).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket %s: %w", key, err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket %s: unexpected reply %v", key, reply)
	}

	var d Decision
	if n, ok := reply[0].(int64); ok {
		d.Allowed = n == 1
	}
	if s, ok := reply[1].(string); ok {
		d.Remaining, _ = strconv.ParseFloat(s, 64)
	}
	if ms, ok := reply[2].(int64); ok && ms > 0 {
		d.RetryAfter = time.Duration(ms) * time.Millisecond
	}
	return d, nil
}

// takeToken returns {allowed, remaining, wait_ms}. remaining is a string so
// the fraction is not truncated on the way out of Lua.
var takeToken = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
end

local allowed, wait = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
elseif rate > 0 then
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {allowed, tostring(tokens), wait}
`)
