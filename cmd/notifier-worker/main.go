package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/orderdesk/internal/notifications"
	"github.com/angelmondragon/orderdesk/pkg/bootstrap"
	"github.com/angelmondragon/orderdesk/pkg/db"
	"github.com/angelmondragon/orderdesk/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderdesk/pkg/pubsub"
	"github.com/angelmondragon/orderdesk/pkg/redis"
)

const serviceKind = "notifier-worker"

func main() {
	proc, err := bootstrap.Start(serviceKind)
	if err != nil {
		bootstrap.Abort(serviceKind, err)
	}
	ctx, stop := proc.Context()
	defer stop()

	err = run(ctx, proc)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	proc.Exit(ctx, err)
}

func run(ctx context.Context, proc *bootstrap.Process) error {
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	proc.Defer("database", dbClient.Close)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	proc.Defer("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.NotificationSubscription)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	proc.Defer("pubsub", pubsubClient.Close)

	subscription := pubsubClient.NotificationSubscription()
	if subscription == nil {
		return errors.New("notification subscription not configured")
	}
	if n := cfg.PubSub.NotificationMaxOutstandingMsgs; n > 0 {
		subscription.ReceiveSettings.MaxOutstandingMessages = n
	}

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}
	notifier, err := notifications.NewInAppNotifier(notifications.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return err
	}
	consumer, err := notifications.NewConsumer(subscription, dedupe, notifier, logg)
	if err != nil {
		return err
	}

	service, err := NewService(ServiceParams{
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "notifier worker ready")
	return service.Run(ctx)
}
