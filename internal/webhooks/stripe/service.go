package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/orderdesk/internal/payments"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

type paymentApplier interface {
	Apply(ctx context.Context, externalIntentID, externalPaymentID string) (*payments.CallbackResult, error)
	RecordFailure(ctx context.Context, externalIntentID, reason string) error
}

type ServiceParams struct {
	Payments paymentApplier
	Logger   *logger.Logger
}

// Service turns verified Stripe events into payment applications.
type Service struct {
	payments paymentApplier
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{payments: params.Payments, logg: params.Logger}, nil
}

// HandleEvent applies payment_intent.succeeded and records declines. Other
// event types are acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		pi, err := decodeIntent(event)
		if err != nil {
			return err
		}
		_, err = s.payments.Apply(ctx, pi.ID, paymentID(pi))
		switch {
		case err == nil:
			return nil
		case pkgerrors.IsCode(err, pkgerrors.CodeIllegalTransition):
			// recorded as a rejected payment; Stripe must not redeliver
			return nil
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			s.logg.Warn(s.logg.WithField(ctx, "external_intent_id", pi.ID), "stripe intent not opened by this service")
			return nil
		default:
			return err
		}
	case stripe.EventTypePaymentIntentPaymentFailed:
		pi, err := decodeIntent(event)
		if err != nil {
			return err
		}
		return s.payments.RecordFailure(ctx, pi.ID, failureReason(pi))
	default:
		return nil
	}
}

func decodeIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if pi.ID == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, errors.New("empty id"), "payment intent id missing")
	}
	return &pi, nil
}

// paymentID prefers the charge id so it matches what the callback path signs.
func paymentID(pi *stripe.PaymentIntent) string {
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		return pi.LatestCharge.ID
	}
	return pi.ID
}

func failureReason(pi *stripe.PaymentIntent) string {
	if pi.LastPaymentError == nil {
		return "payment_failed"
	}
	if code := string(pi.LastPaymentError.Code); code != "" {
		return code
	}
	if pi.LastPaymentError.Msg != "" {
		return pi.LastPaymentError.Msg
	}
	return "payment_failed"
}
