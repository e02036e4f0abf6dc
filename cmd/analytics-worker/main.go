package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/orderdesk/internal/analytics/router"
	"github.com/angelmondragon/orderdesk/internal/analytics/worker"
	"github.com/angelmondragon/orderdesk/internal/analytics/writer"
	"github.com/angelmondragon/orderdesk/pkg/bigquery"
	"github.com/angelmondragon/orderdesk/pkg/bootstrap"
	"github.com/angelmondragon/orderdesk/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderdesk/pkg/pubsub"
	"github.com/angelmondragon/orderdesk/pkg/redis"
)

const serviceKind = "analytics-worker"

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

// run wires the transition sink: Pub/Sub lifecycle events, deduped in redis,
// streamed into the BigQuery transitions table.
func run(ctx context.Context, proc *bootstrap.Process) error {
	cfg, logg := proc.Config, proc.Logger

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	proc.Defer("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.AnalyticsSubscription)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	proc.Defer("pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	proc.Defer("bigquery", bqClient.Close)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}

	transitions, err := writer.New(bqClient, writer.Config{TransitionsTable: cfg.BigQuery.TransitionsTable})
	if err != nil {
		return err
	}
	if err := transitions.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("transitions table: %w", err)
	}

	handler, err := router.NewRouter(transitions, logg)
	if err != nil {
		return err
	}
	service, err := worker.NewService(subscription, handler, dedupe, logg)
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "table", cfg.BigQuery.TransitionsTable), "analytics worker ready")
	return service.Run(ctx)
}
