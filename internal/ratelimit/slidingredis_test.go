package ratelimit_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tafel/internal/ratelimit"
)

func TestLimiterSlidingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.Limiter{Client: client}

	ctx := context.Background()
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "10.0.0.7", window, max)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
		require.Equal(t, max-(i+1), remaining)
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "10.0.0.7", window, max)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, remaining)

	// Without an explicit prefix the window lives under the tafel namespace.
	require.True(t, mr.Exists("tafel:rl:10.0.0.7"))

	mr.FastForward(window)

	allowed, _, _, err = limiter.Allow(ctx, "10.0.0.7", window, max)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterWithoutRedisAllowsEverything(t *testing.T) {
	limiter := ratelimit.Limiter{}
	allowed, _, _, err := limiter.Allow(context.Background(), "anyone", time.Second, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}
