package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := NewWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestIncrWithTTLStartsWindowOnFirstHit(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()
	key := client.RateLimitKey("callbacks:10.0.0.1")

	for want := int64(1); want <= 3; want++ {
		count, err := client.IncrWithTTL(ctx, key, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}
	assert.Equal(t, time.Second, srv.TTL(key), "later hits must not extend the window")

	srv.FastForward(2 * time.Second)
	count, err := client.IncrWithTTL(ctx, key, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "a new window starts after expiry")
}

func TestNextSequenceIsMonotonicAndPersistent(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	first, err := client.NextSequence(ctx, "order_number")
	require.NoError(t, err)
	second, err := client.NextSequence(ctx, "order_number")
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
	assert.Zero(t, srv.TTL(client.CounterKey("order_number")))

	_, err = client.NextSequence(ctx, " ")
	assert.Error(t, err)
}

func TestSetNXAndDel(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	key := client.IdempotencyKey("stripe-webhook", "evt_1")
	set, err := client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, set, "second SetNX must not overwrite")

	srv.FastForward(2 * time.Minute)
	set, err = client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, set, "key should expire with its ttl")

	require.NoError(t, client.Del(ctx, key))
	require.NoError(t, client.Del(ctx))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
	require.NoError(t, client.Ping(ctx))
}

func TestCompareAndDeleteOnlyRemovesMatchingValue(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	key := client.LockKey("cron-worker")
	require.NoError(t, client.Set(ctx, key, "owner-a", time.Minute))

	deleted, err := client.CompareAndDelete(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, srv.Exists(key))

	deleted, err = client.CompareAndDelete(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, srv.Exists(key))
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "od:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "od:rate_limit:scope", client.RateLimitKey("scope"))
	assert.Equal(t, "od:counter:hits", client.CounterKey("hits"))
	assert.Equal(t, "od:lock:cron", client.LockKey(" cron "))
	assert.Equal(t, "od:idempotency:id", client.IdempotencyKey("", "id"), "empty parts are skipped")
}

func TestUninitializedClientErrors(t *testing.T) {
	var client *Client
	ctx := context.Background()
	_, err := client.Get(ctx, "k")
	assert.ErrorIs(t, err, errNotInitialized)
	_, err = (&Client{}).IncrWithTTL(ctx, "k", time.Second)
	assert.ErrorIs(t, err, errNotInitialized)
	assert.ErrorIs(t, client.Ping(ctx), errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:secret@cache:6380/2", PoolSize: 7, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)

	_, err = optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)
}
