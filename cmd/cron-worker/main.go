package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderdesk/internal/cron"
	"github.com/angelmondragon/orderdesk/internal/notifications"
	"github.com/angelmondragon/orderdesk/internal/payments"
	"github.com/angelmondragon/orderdesk/pkg/bootstrap"
	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/db"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
	"github.com/angelmondragon/orderdesk/pkg/migrate"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/redis"
)

const serviceKind = "cron-worker"

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

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	proc.Defer("redis", redisClient.Close)

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}
	jobs, err := buildRegistry(cfg, logg, dbClient, jobMetrics)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics endpoint stopped", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "jobs", len(jobs.Jobs())), "cron worker ready")
	return service.Run(ctx)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, jobMetrics *metrics.CronJobMetrics) (*cron.Registry, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		DLQ:        outbox.NewDLQRepository(dbClient.DB()),
		Metrics:    jobMetrics,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewIntentExpiryJob(cron.IntentExpiryJobParams{
		Logger:     logg,
		Repository: payments.NewRepository(dbClient.DB()),
		Metrics:    jobMetrics,
		TTL:        cfg.Payments.IntentTTL,
	})
	if err != nil {
		return nil, err
	}
	cleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(dbClient.DB()),
		Metrics:    jobMetrics,
		Retention:  cfg.Cron.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(retention, expiry, cleanup)
}
