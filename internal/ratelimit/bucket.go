// Package ratelimit bounds the outbound request rate to a provider.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cesargomez89/catalogsync/internal/constants"
)

var ErrInvalidRate = errors.New("rate limiter capacity and refill rate must be positive")

// Limiter hands out request tokens. Acquire blocks until one is available.
type Limiter interface {
	Acquire(ctx context.Context) error
	Available(ctx context.Context) float64
}

// Option configures a bucket.
type Option func(*options)

type options struct {
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	maxWait time.Duration
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleeper replaces the timer based wait, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithMaxWait caps a single suspension inside Acquire.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

func buildOptions(opts []Option) options {
	o := options{
		now:     time.Now,
		sleep:   Sleep,
		maxWait: constants.DefaultRateMaxWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TokenBucket is an in-process limiter. Refill is computed lazily from the
// wall clock on every call; tokens stay within [0, capacity].
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
	opts       options
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity int, refillPerSecond float64, opts ...Option) (*TokenBucket, error) {
	if capacity < 1 || refillPerSecond <= 0 {
		return nil, ErrInvalidRate
	}
	o := buildOptions(opts)
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillPerSecond,
		last:       o.now(),
		opts:       o,
	}, nil
}

// PerMinute converts a requests-per-minute budget to a refill rate.
func PerMinute(n int) float64 {
	return float64(n) / 60.0
}

func (b *TokenBucket) refill() {
	now := b.opts.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.last = now
	}
}

// Acquire waits until a token can be debited.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := waitFor(b.tokens, b.refillRate, b.opts.maxWait)
		b.mu.Unlock()

		if err := b.opts.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Available returns the current token count without blocking.
func (b *TokenBucket) Available(_ context.Context) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// waitFor is the time until one whole token accrues, capped at max.
func waitFor(tokens, rate float64, max time.Duration) time.Duration {
	wait := time.Duration((1 - tokens) / rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	if max > 0 && wait > max {
		wait = max
	}
	return wait
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
