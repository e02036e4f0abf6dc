package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderdesk/api/controllers"
	feedcontrollers "github.com/angelmondragon/orderdesk/api/controllers/feed"
	ordercontrollers "github.com/angelmondragon/orderdesk/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/orderdesk/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/orderdesk/api/controllers/webhooks"
	"github.com/angelmondragon/orderdesk/api/middleware"
	"github.com/angelmondragon/orderdesk/internal/notifications"
	"github.com/angelmondragon/orderdesk/internal/orders"
	"github.com/angelmondragon/orderdesk/internal/payments"
	stripewebhook "github.com/angelmondragon/orderdesk/internal/webhooks/stripe"
	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/db"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/redis"
	"github.com/angelmondragon/orderdesk/pkg/stripe"
)

// Dependencies is everything the API routes are built from. Optional
// collaborators may be nil; their routes then answer with an internal error
// or are not mounted.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *redis.Client
	Gatherer prometheus.Gatherer

	Orders        orders.Service
	OrderReader   feedcontrollers.OrderReader
	Payments      payments.Service
	Notifications notifications.Service
	Feed          feedcontrollers.Subscriber

	StripeClient  *stripe.Client
	StripeWebhook *stripewebhook.Service
	WebhookGuard  webhookcontrollers.EventDeduper
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	readiness := []controllers.Dependency{{Name: "db", Pinger: deps.DB}}
	if deps.Redis != nil {
		readiness = append(readiness, controllers.Dependency{Name: "redis", Pinger: deps.Redis})
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness...))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	callbackPolicy := middleware.NewRateLimitPolicy(
		"payment-callback",
		cfg.HTTP.CallbackRateWindow,
		cfg.HTTP.CallbackRateLimit,
	)

	if deps.StripeWebhook != nil && deps.StripeClient != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(middleware.RateLimit(callbackPolicy, deps.Redis, logg))
			r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeClient, deps.WebhookGuard, logg))
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(callbackPolicy, deps.Redis, logg)).
			Post("/payments/callback", paymentcontrollers.Callback(deps.Payments, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore(deps.Redis), logg))

			staff := middleware.RequireRole(logg, string(enums.ActorRoleStaff))
			customer := middleware.RequireRole(logg, string(enums.ActorRoleCustomer))

			r.Route("/orders", func(r chi.Router) {
				r.With(customer).Post("/", ordercontrollers.Create(deps.Orders, logg))
				r.Get("/", ordercontrollers.List(deps.Orders, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
				r.Get("/{orderId}/events", feedcontrollers.OrderEvents(deps.Feed, deps.OrderReader, feedOptions(cfg), logg))
				r.With(staff).Post("/{orderId}/transitions", ordercontrollers.Transition(deps.Orders, logg))
				r.Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
				r.With(staff).Patch("/{orderId}/items/{itemId}", ordercontrollers.UpdateItemPrice(deps.Orders, logg))
				r.Post("/{orderId}/payment-intents", paymentcontrollers.CreateIntent(deps.Payments, logg))
			})

			r.With(staff).Get("/board/events", feedcontrollers.BoardEvents(deps.Feed, deps.OrderReader, feedOptions(cfg), logg))

			r.Route("/notifications", func(r chi.Router) {
				r.Use(customer)
				r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			})
		})
	})

	return r
}

func feedOptions(cfg *config.Config) feedcontrollers.Options {
	return feedcontrollers.Options{Heartbeat: cfg.ChangeFeed.KeepAlive}
}

// a nil *redis.Client must reach the middleware as a nil interface
func idempotencyStore(client *redis.Client) middleware.ResponseStore {
	if client == nil {
		return nil
	}
	return client
}
