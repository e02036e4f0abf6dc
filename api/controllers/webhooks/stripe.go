package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/orderdesk/api/responses"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

const (
	// StripeDedupeScope namespaces Stripe event ids in the idempotency store.
	StripeDedupeScope = "stripe-webhook"

	maxStripePayload   = 64 << 10
	signatureTolerance = 5 * time.Minute
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// EventDeduper claims gateway event ids so redeliveries are acknowledged
// without being applied twice.
type EventDeduper interface {
	Seen(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

type stripeClient interface {
	SigningSecret() string
}

type stripeAck struct {
	EventID   string `json:"eventId"`
	Duplicate bool   `json:"duplicate"`
}

// StripeWebhook verifies Stripe deliveries and feeds payment intent outcomes
// into payment reconciliation. A delivery is claimed before it is handled and
// the claim is released when handling fails, so Stripe's retry gets through.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard EventDeduper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		event, err := verifyStripeDelivery(w, r, client.SigningSecret())
		if err != nil {
			if logg != nil && pkgerrors.IsCode(err, pkgerrors.CodeVerificationFailed) {
				logg.Security(ctx, "stripe webhook signature rejected", map[string]any{"error": err.Error()})
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id":   event.ID,
				"stripe_event_type": string(event.Type),
			})
		}

		duplicate, err := guard.Seen(ctx, StripeDedupeScope, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stripe event"))
			return
		}
		if duplicate {
			if logg != nil {
				logg.Debug(ctx, "stripe event already handled")
			}
			responses.WriteSuccess(w, stripeAck{EventID: event.ID, Duplicate: true})
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if releaseErr := guard.Release(context.WithoutCancel(ctx), StripeDedupeScope, event.ID); releaseErr != nil && logg != nil {
				logg.Error(ctx, "failed to release stripe event claim", releaseErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, "stripe event handled")
		}
		responses.WriteSuccess(w, stripeAck{EventID: event.ID})
	}
}

func verifyStripeDelivery(w http.ResponseWriter, r *http.Request, secret string) (stripe.Event, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStripePayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe payload too large")
		}
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read stripe payload")
	}

	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeVerificationFailed, err, "verify stripe signature")
	}
	return event, nil
}
