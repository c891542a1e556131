// Package lock keeps assignment ticks from overlapping, within one process or
// across processes that share a Redis.
package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker hands out a non-blocking, exclusive lock. acquired is false when another holder has it.
type Locker interface {
	TryLock(ctx context.Context) (unlock Unlock, acquired bool, err error)
}

// Local is an in-process lock.
type Local struct {
	held atomic.Bool
}

func (l *Local) TryLock(context.Context) (Unlock, bool, error) {
	if !l.held.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.held.Store(false)
		return nil
	}, true, nil
}

// Held reports whether the lock is currently taken.
func (l *Local) Held() bool { return l.held.Load() }

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// ErrLockLost means the lease expired before it was released.
var ErrLockLost = errors.New("lock lease expired before release")

// Redis is a lease-based lock shared by every process using the same key.
// The TTL bounds how long a crashed holder blocks others.
type Redis struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func NewRedis(addr, key string, ttl time.Duration) *Redis {
	return &Redis{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Key:    key,
		TTL:    ttl,
	}
}

func (r *Redis) TryLock(ctx context.Context) (Unlock, bool, error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, r.Key, token, r.TTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.Client, []string{r.Key}, token).Int()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrLockLost
		}
		return nil
	}, true, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

// Chain takes every locker in order and releases the taken ones when a later one is busy.
type Chain []Locker

func (c Chain) TryLock(ctx context.Context) (Unlock, bool, error) {
	var taken []Unlock
	release := func(ctx context.Context) error {
		var errs []error
		for i := len(taken) - 1; i >= 0; i-- {
			if err := taken[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	for _, l := range c {
		unlock, ok, err := l.TryLock(ctx)
		if err != nil || !ok {
			_ = release(ctx)
			return nil, false, err
		}
		taken = append(taken, unlock)
	}
	return release, true, nil
}
