// Package lock serializes session mutations across API instances. Claims and
// payments for one session must observe each other; within one process the
// service's keyed mutex is enough, and this Redis lock extends that guarantee
// to multi-instance deployments.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "tafel:lock:"
	defaultTTL     = 30 * time.Second
	defaultBackoff = 50 * time.Millisecond
)

// releaseScript deletes the key only when it still holds our token, so an
// expired lock taken over by another instance is never released from here.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker is a Redis-backed distributed lock. Keys are namespaced under the
// tafel prefix unless Prefix overrides it.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
}

// WithLock runs fn while holding the lock for key. The lock is released even
// when fn fails; when it cannot be acquired before the context is cancelled
// the context error is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := l.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	redisKey := prefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token, ttl); err != nil {
		return err
	}
	defer l.release(context.Background(), redisKey, token)
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		// Servers without EVAL still get a best-effort unlock.
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
