package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/logger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type consumerFunc func(context.Context) error

func (f consumerFunc) Run(ctx context.Context) error { return f(ctx) }

func ok(context.Context) error { return nil }

func newTestService(t *testing.T, redis pinger, c consumer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "notifier-test", Output: io.Discard}),
		DB:       pingFunc(ok),
		Redis:    redis,
		PubSub:   pingFunc(ok),
		Consumer: c,
	})
	require.NoError(t, err)
	return svc
}

func TestRunStopsBeforeConsumingWhenDependencyDown(t *testing.T) {
	consumed := false
	svc := newTestService(t,
		pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
		consumerFunc(func(context.Context) error { consumed = true; return nil }),
	)

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
	assert.False(t, consumed)
}

func TestRunReturnsContextErrorOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := newTestService(t, pingFunc(ok), consumerFunc(func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return nil
	}))

	assert.ErrorIs(t, svc.Run(ctx), context.Canceled)
}

func TestRunSurfacesConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc := newTestService(t, pingFunc(ok), consumerFunc(func(context.Context) error { return boom }))

	assert.ErrorIs(t, svc.Run(context.Background()), boom)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
