// Package ratelimit keeps a single caller from hammering the session
// endpoints: creation, joins and payments are cheap to retry on the client
// side, so a sliding window per client IP caps the blast radius.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "tafel:rl:"

// Limiter is a sliding-window rate limiter backed by a Redis sorted set per
// key. Without a Redis client it allows everything, matching the API's
// memory-mode deployments.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow registers one event for key and reports whether the caller is still
// inside the window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	prefix := l.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	now := time.Now()
	reset = now.Add(window)
	redisKey := prefix + key
	cutoff := strconv.FormatFloat(float64(now.Add(-window).UnixNano()), 'f', -1, 64)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, reset, err
	}

	current := int(countCmd.Val())
	remaining = max - current
	if remaining < 0 {
		remaining = 0
	}
	return current <= max, remaining, reset, nil
}
