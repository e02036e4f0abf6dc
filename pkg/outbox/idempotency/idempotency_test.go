package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/redis"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "od:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestCheckAndMarkProcessedFirstDelivery(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	already, err := manager.CheckAndMarkProcessed(context.Background(), "notifier", eventID)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, "od:idempotency:evt:notifier:"+eventID.String(), store.lastKey)
	assert.Equal(t, 24*time.Hour, store.lastTTL)
}

func TestCheckAndMarkProcessedRedelivery(t *testing.T) {
	manager, err := NewManager(&fakeStore{setNXResult: false}, time.Hour)
	require.NoError(t, err)

	already, err := manager.CheckAndMarkProcessed(context.Background(), "notifier", uuid.New())
	require.NoError(t, err)
	assert.True(t, already)
}

func TestCheckAndMarkProcessedErrors(t *testing.T) {
	manager, err := NewManager(&fakeStore{setNXError: errors.New("boom")}, time.Hour)
	require.NoError(t, err)

	_, err = manager.CheckAndMarkProcessed(context.Background(), "notifier", uuid.New())
	assert.Error(t, err)

	_, err = manager.CheckAndMarkProcessed(context.Background(), "notifier", uuid.Nil)
	assert.Error(t, err)

	_, err = manager.CheckAndMarkProcessed(context.Background(), " ", uuid.New())
	assert.Error(t, err)
}

func TestDeleteReleasesMarker(t *testing.T) {
	store := &fakeStore{}
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	require.NoError(t, manager.Delete(context.Background(), "analytics", eventID))
	assert.Equal(t, "od:idempotency:evt:analytics:"+eventID.String(), store.lastDeleted)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(&fakeStore{}, -time.Second)
	assert.Error(t, err)
}

func TestSeenAgainstMiniredis(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	manager, err := NewManager(client, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := manager.Seen(ctx, "stripe-webhook", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = manager.Seen(ctx, "stripe-webhook", "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, manager.Release(ctx, "stripe-webhook", "evt_1"))
	seen, err = manager.Seen(ctx, "stripe-webhook", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	srv.FastForward(2 * time.Minute)
	seen, err = manager.Seen(ctx, "stripe-webhook", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen, "claims expire with the ttl")
}
