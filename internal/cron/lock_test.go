package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/redis"
)

func newLockClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisLockIsExclusive(t *testing.T) {
	srv, client := newLockClient(t)
	ctx := context.Background()
	key := client.LockKey("cron")

	first, err := NewRedisLock(client, key, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(client, key, time.Minute)
	require.NoError(t, err)

	lease, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.WithinDuration(t, time.Now().Add(time.Minute), lease.Expires, 5*time.Second)

	other, err := second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx), "second release is a no-op")
	assert.False(t, srv.Exists(key))

	other, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestExpiredLeaseCannotReleaseNewHolder(t *testing.T) {
	srv, client := newLockClient(t)
	ctx := context.Background()
	key := client.LockKey("cron")

	lock, err := NewRedisLock(client, key, time.Second)
	require.NoError(t, err)
	stale, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, stale)

	srv.FastForward(2 * time.Second)
	fresh, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, fresh)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, srv.Exists(key), "stale release must leave the new lease in place")
	require.NoError(t, fresh.Release(ctx))
	assert.False(t, srv.Exists(key))
}
