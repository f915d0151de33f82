package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/instance"
	"github.com/angelmondragon/packfinderz-serials/pkg/redis"
)

const (
	defaultLockTTL    = 30 * time.Second
	defaultLockWait   = 5 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker serializes work per key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// ErrBusy is returned when a lock could not be obtained before the wait deadline.
var ErrBusy = errors.New("lock busy")

// RedisLock implements a single named lock using SETNX + TTL.
type RedisLock struct {
	client redis.LockStore
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client redis.LockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire tries to own the lock once.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := instance.Token(uuid.NewString())
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.client.ReleaseIfOwner(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.owner = ""
	return nil
}

// RedisLocker hands out per-key Redis locks, polling until the wait deadline.
type RedisLocker struct {
	client redis.LockStore
	scope  string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker builds a keyed locker under scope.
func NewRedisLocker(client redis.LockStore, scope string, ttl, wait time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for locker")
	}
	if scope == "" {
		return nil, errors.New("lock scope is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{client: client, scope: scope, ttl: ttl, wait: wait, retry: defaultRetryDelay}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lock, err := NewRedisLock(l.client, l.client.LockKey(l.scope, key), l.ttl)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire lock")
		}
		if ok {
			return lock.Release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrBusy, "another operation holds "+key)
		case <-time.After(l.retry):
		}
	}
}
