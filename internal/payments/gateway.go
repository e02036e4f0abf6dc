package payments

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	pkgstripe "github.com/angelmondragon/orderdesk/pkg/stripe"
)

// GatewayIntent is what the payment gateway returns for a new intent.
type GatewayIntent struct {
	IntentID string
	// ClientToken is handed to the customer's browser to confirm the payment.
	ClientToken string
}

// Gateway opens payment intents with an external processor.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency, orderRef, idempotencyKey string) (GatewayIntent, error)
}

type stripeIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req pkgstripe.IntentRequest) (*stripe.PaymentIntent, error)
}

// StripeGateway adapts the Stripe client to Gateway.
type StripeGateway struct {
	client stripeIntentCreator
}

// NewStripeGateway wraps a *stripe.Client from pkg/stripe.
func NewStripeGateway(client stripeIntentCreator) (*StripeGateway, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	return &StripeGateway{client: client}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amountCents int64, currency, orderRef, idempotencyKey string) (GatewayIntent, error) {
	pi, err := g.client.CreatePaymentIntent(ctx, pkgstripe.IntentRequest{
		AmountCents:    amountCents,
		Currency:       currency,
		OrderRef:       orderRef,
		IdempotencyKey: idempotencyKey,
	})
	switch {
	case pkgstripe.Rejected(err):
		return GatewayIntent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment gateway rejected the intent")
	case err != nil:
		return GatewayIntent{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable")
	}
	if pi == nil || pi.ID == "" {
		return GatewayIntent{}, errors.New("gateway returned an empty intent")
	}
	return GatewayIntent{IntentID: pi.ID, ClientToken: pi.ClientSecret}, nil
}
