package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/orderdesk/api/routes"
	"github.com/angelmondragon/orderdesk/internal/changefeed"
	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	"github.com/angelmondragon/orderdesk/internal/notifications"
	"github.com/angelmondragon/orderdesk/internal/orders"
	"github.com/angelmondragon/orderdesk/internal/payments"
	stripewebhook "github.com/angelmondragon/orderdesk/internal/webhooks/stripe"
	"github.com/angelmondragon/orderdesk/pkg/bootstrap"
	"github.com/angelmondragon/orderdesk/pkg/db"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
	"github.com/angelmondragon/orderdesk/pkg/migrate"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderdesk/pkg/redis"
	"github.com/angelmondragon/orderdesk/pkg/stripe"
)

const serviceKind = "api"

func main() {
	proc, err := bootstrap.Start(serviceKind)
	if err != nil {
		bootstrap.Abort(serviceKind, err)
	}
	ctx, stop := proc.Context()
	defer stop()

	proc.Exit(ctx, run(ctx, proc))
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := metrics.NewOrderMetrics(registry)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersRepo := orders.NewRepository(dbClient.DB())
	paymentsRepo := payments.NewRepository(dbClient.DB())

	numbers, err := orders.NewRedisNumberAllocator(redisClient)
	if err != nil {
		return fmt.Errorf("order number allocator: %w", err)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:       ordersRepo,
		Tx:         dbClient,
		Outbox:     outboxService,
		Numbers:    numbers,
		Superseder: paymentsRepo,
		Engine:     lifecycle.NewEngine(nil),
		Metrics:    orderMetrics,
		Logger:     logg,
	})
	if err != nil {
		return fmt.Errorf("orders service: %w", err)
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("stripe client: %w", err)
	}
	gateway, err := payments.NewStripeGateway(stripeClient)
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:           paymentsRepo,
		Orders:         ordersService,
		Gateway:        gateway,
		Tx:             dbClient,
		Outbox:         outboxService,
		CallbackSecret: cfg.Gateway.CallbackSecret,
		Currency:       cfg.Gateway.Currency,
		Metrics:        orderMetrics,
		Logger:         logg,
	})
	if err != nil {
		return fmt.Errorf("payments service: %w", err)
	}

	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Payments: paymentsService,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("stripe webhook service: %w", err)
	}
	webhookGuard, err := idempotency.NewManager(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("webhook idempotency guard: %w", err)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		return fmt.Errorf("notifications service: %w", err)
	}

	hub := changefeed.NewHub(changefeed.HubOptions{
		Buffer:  cfg.ChangeFeed.SubscriberBuffer,
		Metrics: orderMetrics,
		Logger:  logg,
	})
	proc.Defer("change feed", func() error { hub.Close(); return nil })

	if cfg.FeatureFlags.ChangeFeed {
		source, err := changefeed.NewPQSource(dbClient.DSN(), cfg.ChangeFeed, logg)
		if err != nil {
			return fmt.Errorf("change feed source: %w", err)
		}
		go func() {
			if err := hub.Run(ctx, source); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "change feed stopped, live order events disabled until restart", err)
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	ctx = logg.WithField(ctx, "addr", ":"+port)

	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Gatherer:      registry,
			Orders:        ordersService,
			OrderReader:   ordersRepo,
			Payments:      paymentsService,
			Notifications: notificationsService,
			Feed:          hub,
			StripeClient:  stripeClient,
			StripeWebhook: stripeWebhookService,
			WebhookGuard:  webhookGuard,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logg.Info(ctx, "api server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// live event streams never go idle; end them so Shutdown can drain
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
