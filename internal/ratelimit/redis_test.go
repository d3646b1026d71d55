package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) redis.UniversalClient {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBucket_DrainAndRefill(t *testing.T) {
	client := setupRedis(t)
	clock := newFakeClock()
	ctx := context.Background()

	b, err := NewRedisBucket(client, "pricing", 3, 1, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Acquire(ctx))
	}
	assert.Equal(t, float64(0), b.Available(ctx))

	clock.Advance(time.Second)
	got := b.Available(ctx)
	assert.Greater(t, got, float64(0))
	assert.LessOrEqual(t, got, float64(3))

	clock.Advance(time.Hour)
	assert.Equal(t, float64(3), b.Available(ctx))
}

func TestRedisBucket_SharedAcrossInstances(t *testing.T) {
	client := setupRedis(t)
	clock := newFakeClock()
	ctx := context.Background()

	first, _ := NewRedisBucket(client, "pricing", 2, 1, WithClock(clock.Now))
	second, _ := NewRedisBucket(client, "pricing", 2, 1, WithClock(clock.Now))

	require.NoError(t, first.Acquire(ctx))
	require.NoError(t, second.Acquire(ctx))

	assert.Equal(t, float64(0), first.Available(ctx))
	assert.Equal(t, float64(0), second.Available(ctx))
}

func TestRedisBucket_AcquireWaits(t *testing.T) {
	client := setupRedis(t)
	clock := newFakeClock()
	var waits []time.Duration
	ctx := context.Background()

	b, _ := NewRedisBucket(client, "slow", 1, 4, WithClock(clock.Now), WithSleeper(clock.sleeper(&waits)))

	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Acquire(ctx))

	require.Len(t, waits, 1)
	assert.Equal(t, 250*time.Millisecond, waits[0])
}

func TestRedisBucket_Invalid(t *testing.T) {
	client := setupRedis(t)
	_, err := NewRedisBucket(client, "x", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestRedisBucket_NamespacesKeyOnce(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	b, err := NewRedisBucket(client, "pricing", 2, 1)
	require.NoError(t, err)
	require.NoError(t, b.Acquire(ctx))

	n, err := client.Exists(ctx, "ratelimit:pricing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = client.Exists(ctx, "ratelimit:ratelimit:pricing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
