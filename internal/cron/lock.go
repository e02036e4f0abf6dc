package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// Locker hands out exclusive, time-bounded leases so one cron replica runs
// jobs at a time.
type Locker interface {
	// TryAcquire returns a nil lease and no error when another holder has it.
	TryAcquire(ctx context.Context) (*Lease, error)
}

// Lease is exclusive until Release or Expires, whichever comes first.
type Lease struct {
	Expires time.Time

	once    sync.Once
	release func(context.Context) error
}

// Release is safe to call more than once; only the first call reaches the store.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		if l.release != nil {
			err = l.release(ctx)
		}
	})
	return err
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// RedisLock leases a key with SET NX PX. Every lease carries its own owner
// token and releases with compare-and-delete, so a holder whose lease ran out
// cannot free the key for whoever holds it now.
type RedisLock struct {
	client lockStore
	key    string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisLock(client lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl, now: time.Now}, nil
}

func (l *RedisLock) TryAcquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()
	// stamp expiry before the round trip so the local view never outlives redis
	expires := l.now().Add(l.ttl)
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{
		Expires: expires,
		release: func(ctx context.Context) error {
			if _, err := l.client.CompareAndDelete(ctx, l.key, token); err != nil {
				return fmt.Errorf("release %s: %w", l.key, err)
			}
			return nil
		},
	}, nil
}
