package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another holder owns the key.
var ErrLockHeld = errors.New("store: lock already held")

// releaseLua deletes a lock key only if it still carries the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker hands out short-lived distributed locks so that several engine
// replicas sharing one database never run a settlement operation at once.
type RedisLocker struct {
	rdb     *redis.Client
	release *redis.Script
	prefix  string
}

// NewRedisLocker creates a locker whose keys live under prefix.
func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "settlement:lock:"
	}
	return &RedisLocker{
		rdb:     rdb,
		release: redis.NewScript(releaseLua),
		prefix:  prefix,
	}
}

// Acquire takes the lock for key with the given TTL. The returned release
// function is idempotent.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := l.prefix + key

	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.release.Run(rctx, l.rdb, []string{k}, token).Err()
	}, nil
}
