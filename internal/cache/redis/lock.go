package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mevflow/auctiond/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker implements domain.Locker using Redis SETNX with a TTL and a
// Lua-based conditional unlock. It serializes per-pool settlement when more
// than one auctiond instance runs against the same engine.
type Locker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLocker creates a Locker backed by the given Client.
func NewLocker(c *Client) *Locker {
	return &Locker{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns a release function; releasing twice is
// harmless. It returns domain.ErrLockHeld when another party holds the lock.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(ctx context.Context) error, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true

		if err := l.unlockSc.Run(ctx, l.rdb, []string{lk}, token).Err(); err != nil {
			return fmt.Errorf("redis: release lock %s: %w", key, err)
		}
		return nil
	}

	return release, nil
}

// Compile-time interface check.
var _ domain.Locker = (*Locker)(nil)
