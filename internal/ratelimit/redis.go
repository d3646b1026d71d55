package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// refillScript applies the same lazy refill as TokenBucket against a hash so
// every process sharing the key draws from one budget. ARGV[4] = 1 debits a
// token when available; the reply is {tokens, wait_ms}.
var refillScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local take = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
	tokens = capacity
	ts = now
end

local elapsed = (now - ts) / 1000
if elapsed > 0 then
	tokens = math.min(capacity, tokens + elapsed * rate)
	ts = now
end

local wait = 0
if take == 1 then
	if tokens >= 1 then
		tokens = tokens - 1
	else
		wait = math.ceil((1 - tokens) / rate * 1000)
	end
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], math.ceil(capacity / rate * 1000) + 1000)
return {tostring(tokens), wait}
`)

// RedisBucket is a token bucket whose state lives in Redis.
type RedisBucket struct {
	client     redis.UniversalClient
	key        string
	capacity   float64
	refillRate float64
	opts       options
}

// NewRedisBucket returns a limiter shared by every process using key.
func NewRedisBucket(client redis.UniversalClient, key string, capacity int, refillPerSecond float64, opts ...Option) (*RedisBucket, error) {
	if capacity < 1 || refillPerSecond <= 0 {
		return nil, ErrInvalidRate
	}
	return &RedisBucket{
		client:     client,
		key:        "ratelimit:" + key,
		capacity:   float64(capacity),
		refillRate: refillPerSecond,
		opts:       buildOptions(opts),
	}, nil
}

func (b *RedisBucket) eval(ctx context.Context, take bool) (float64, time.Duration, error) {
	flag := 0
	if take {
		flag = 1
	}
	now := b.opts.now().UnixMilli()
	res, err := refillScript.Run(ctx, b.client, []string{b.key}, b.capacity, b.refillRate, now, flag).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	tokenStr, ok := res[0].(string)
	if !ok {
		return 0, 0, fmt.Errorf("rate limit script: unexpected token type %T", res[0])
	}
	tokens, err := strconv.ParseFloat(tokenStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}
	waitMs, _ := res[1].(int64)
	return tokens, time.Duration(waitMs) * time.Millisecond, nil
}

// Acquire waits until the shared bucket yields a token.
func (b *RedisBucket) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, wait, err := b.eval(ctx, true)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if b.opts.maxWait > 0 && wait > b.opts.maxWait {
			wait = b.opts.maxWait
		}
		if err := b.opts.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Available reports the shared token count. Errors read as an empty bucket.
func (b *RedisBucket) Available(ctx context.Context) float64 {
	tokens, _, err := b.eval(ctx, false)
	if err != nil {
		return 0
	}
	return tokens
}
