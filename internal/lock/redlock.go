// Package lock implements the Redlock simplified single-instance
// distributed-lock protocol (spec.md §5): SET NX EX to acquire, a
// Lua-guarded DEL to release that only succeeds if the caller's token still
// owns the key, and EXPIRE-based TTL extension gated the same way.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes key only if its value still matches the caller's
// token, preventing a lock holder from releasing a lock it no longer owns
// (e.g. after its TTL expired and another caller acquired it).
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// extendScript extends a held lock's TTL only if the token still matches.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// ErrNotAcquired is returned by Acquire when the key is already locked.
var ErrNotAcquired = fmt.Errorf("lock: not acquired")

// Locker acquires repo-scoped distributed locks. CompactionManager uses one
// to serialize the Freeze/Rebuild/Promote transitions for a given repo_id
// across process boundaries.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held distributed lock.
type Lock interface {
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) error
}

// RedisLocker implements Locker against a single Redis instance.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps an existing Redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire attempts SET key token NX PX ttl. Returns ErrNotAcquired if the
// key is already held by someone else.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redlock acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLock{client: l.client, key: key, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	_, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("redlock release %s: %w", l.key, err)
	}
	return nil
}

func (l *redisLock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("redlock extend %s: %w", l.key, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return fmt.Errorf("redlock extend %s: lock no longer held", l.key)
	}
	return nil
}
