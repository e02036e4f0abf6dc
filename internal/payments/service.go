package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	"github.com/angelmondragon/orderdesk/internal/orders"
	"github.com/angelmondragon/orderdesk/pkg/db"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
	"github.com/angelmondragon/orderdesk/pkg/security"
)

const rejectedCancelled = "order cancelled before payment confirmation"

type orderService interface {
	Detail(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) (*orders.OrderDTO, error)
	RequestTransition(ctx context.Context, req orders.TransitionRequest) (*orders.TransitionResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// CreateIntentInput opens a gateway payment for an order. A nil amount charges the order total.
type CreateIntentInput struct {
	OrderID     uuid.UUID
	AmountCents *int64
	Currency    string
	Actor       lifecycle.Actor
}

// IntentResult is returned to the client that will confirm the payment.
type IntentResult struct {
	ID               uuid.UUID `json:"id"`
	ExternalIntentID string    `json:"external_intent_id"`
	ClientToken      string    `json:"client_token"`
	Amount           string    `json:"amount"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
}

// Callback is the signed gateway confirmation.
type Callback struct {
	ExternalIntentID  string `json:"intent_id" validate:"required"`
	ExternalPaymentID string `json:"payment_id" validate:"required"`
	Signature         string `json:"signature" validate:"required"`
}

// CallbackResult is the same for the first and every repeated delivery.
type CallbackResult struct {
	Order          orders.OrderDTO `json:"order"`
	AlreadyApplied bool            `json:"already_applied"`
}

// Service runs the two-phase gateway payment protocol.
type Service interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*IntentResult, error)
	HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error)
	Apply(ctx context.Context, externalIntentID, externalPaymentID string) (*CallbackResult, error)
	RecordFailure(ctx context.Context, externalIntentID, reason string) error
}

// ServiceParams wires the payments service.
type ServiceParams struct {
	Repo           Repository
	Orders         orderService
	Gateway        Gateway
	Tx             txRunner
	Outbox         outboxPublisher
	CallbackSecret string
	Currency       string
	Metrics        *metrics.OrderMetrics
	Logger         *logger.Logger
}

type service struct {
	repo     Repository
	orders   orderService
	gateway  Gateway
	tx       txRunner
	outbox   outboxPublisher
	secret   string
	currency string
	metrics  *metrics.OrderMetrics
	logg     *logger.Logger
}

// NewService validates the dependencies.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case p.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case strings.TrimSpace(p.CallbackSecret) == "":
		return nil, fmt.Errorf("callback secret required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &service{
		repo:     p.Repo,
		orders:   p.Orders,
		gateway:  p.Gateway,
		tx:       p.Tx,
		outbox:   p.Outbox,
		secret:   p.CallbackSecret,
		currency: currency,
		metrics:  p.Metrics,
		logg:     p.Logger,
	}, nil
}

// CreateIntent is phase one. It only stores the correlation row; order status is untouched.
func (s *service) CreateIntent(ctx context.Context, input CreateIntentInput) (*IntentResult, error) {
	if err := input.Actor.Validate(); err != nil {
		return nil, err
	}
	if input.Actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "system actor cannot open payments")
	}
	order, err := s.orders.Detail(ctx, input.Actor, input.OrderID)
	if err != nil {
		return nil, err
	}
	switch {
	case order.Cancellation != nil:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	case order.Status == enums.OrderStatusCompleted:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is completed")
	case order.Payment != nil:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}

	amount := order.TotalCents
	if input.AmountCents != nil {
		amount = *input.AmountCents
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = order.Currency
	}
	if currency == "" {
		currency = s.currency
	}

	key := fmt.Sprintf("order:%s:amount:%d:%s", order.ID, amount, currency)
	gi, err := s.gateway.CreateIntent(ctx, amount, currency, order.ID.String(), key)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create gateway intent")
		}
		return nil, err
	}

	intent, err := s.repo.FindByExternalID(ctx, gi.IntentID)
	switch {
	case err == nil:
		// the gateway replayed an intent we already recorded
	case errors.Is(err, gorm.ErrRecordNotFound):
		intent = &models.PaymentIntent{
			ID:               uuid.New(),
			OrderID:          order.ID,
			ExternalIntentID: gi.IntentID,
			AmountCents:      amount,
			Currency:         currency,
			Status:           enums.PaymentIntentStatusCreated,
		}
		if err := s.repo.Create(ctx, intent); err != nil {
			if !db.IsUniqueViolation(err, "") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment intent")
			}
			if intent, err = s.repo.FindByExternalID(ctx, gi.IntentID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment intent")
			}
		}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":           order.ID.String(),
		"external_intent_id": intent.ExternalIntentID,
		"amount_cents":       intent.AmountCents,
	})
	s.logg.Info(logCtx, "payment intent created")

	return &IntentResult{
		ID:               intent.ID,
		ExternalIntentID: intent.ExternalIntentID,
		ClientToken:      gi.ClientToken,
		Amount:           orders.FormatCents(intent.AmountCents),
		AmountCents:      intent.AmountCents,
		Currency:         intent.Currency,
	}, nil
}

// HandleCallback verifies the signature before looking at anything else, then applies.
func (s *service) HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	message, err := security.CallbackMessage(cb.ExternalIntentID, cb.ExternalPaymentID)
	if err == nil {
		err = security.Verify(s.secret, message, cb.Signature)
	}
	if err != nil {
		s.metrics.ObserveCallback(metrics.CallbackVerificationFailed)
		s.logg.Security(ctx, "payment callback signature rejected", map[string]any{
			"external_intent_id": cb.ExternalIntentID,
		})
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "callback signature invalid")
	}
	return s.Apply(ctx, cb.ExternalIntentID, cb.ExternalPaymentID)
}

// Apply records a verified payment. Repeated calls are safe and return the same projection.
func (s *service) Apply(ctx context.Context, externalIntentID, externalPaymentID string) (*CallbackResult, error) {
	externalIntentID = strings.TrimSpace(externalIntentID)
	externalPaymentID = strings.TrimSpace(externalPaymentID)
	if externalIntentID == "" || externalPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent and payment ids are required")
	}

	intent, err := s.repo.FindByExternalID(ctx, externalIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.ObserveCallback(metrics.CallbackError)
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":            intent.OrderID.String(),
		"external_intent_id":  externalIntentID,
		"external_payment_id": externalPaymentID,
	})

	var settled bool
	res, err := s.orders.RequestTransition(ctx, orders.TransitionRequest{
		OrderID: intent.OrderID,
		Status:  enums.OrderStatusPaymentReceived,
		Actor:   lifecycle.System(),
		Payment: &orders.PaymentDetails{
			Method:      enums.PaymentMethodOnline,
			AmountCents: &intent.AmountCents,
			Reference:   &externalPaymentID,
		},
		AfterWrite: func(ctx context.Context, tx *gorm.DB, _ models.Order, _ lifecycle.AppliedTransition) error {
			ok, err := s.repo.WithTx(tx).MarkSucceeded(ctx, intent.ID, externalPaymentID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark intent succeeded")
			}
			settled = ok
			return nil
		},
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeIllegalTransition) {
			return nil, s.reject(ctx, intent, externalPaymentID, err)
		}
		s.metrics.ObserveCallback(metrics.CallbackError)
		return nil, err
	}

	if res.NoOp && intent.Status == enums.PaymentIntentStatusSuperseded {
		s.logg.Warn(ctx, "gateway payment confirmed for an order already paid by hand")
	}

	result := &CallbackResult{
		Order:          orders.ProjectOrder(res.Order, lifecycle.System()),
		AlreadyApplied: res.NoOp,
	}
	if res.NoOp {
		s.metrics.ObserveCallback(metrics.CallbackAlreadyApplied)
		s.logg.Info(ctx, "payment callback already applied")
	} else {
		s.metrics.ObserveCallback(metrics.CallbackApplied)
		s.logg.Info(ctx, fmt.Sprintf("payment applied (intent settled=%t)", settled))
	}
	return result, nil
}

// reject marks the intent rejected and queues a payment_rejected event the
// first time a verified payment meets a cancelled order.
func (s *service) reject(ctx context.Context, intent *models.PaymentIntent, externalPaymentID string, cause error) error {
	s.metrics.ObserveCallback(metrics.CallbackRejected)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		marked, err := s.repo.WithTx(tx).MarkRejected(ctx, intent.ID, externalPaymentID, rejectedCancelled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark intent rejected")
		}
		if !marked {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRejected,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   intent.ID,
			Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
			Data: payloads.PaymentRejectedEvent{
				OrderID:           intent.OrderID,
				PaymentIntentID:   intent.ID,
				ExternalIntentID:  intent.ExternalIntentID,
				ExternalPaymentID: externalPaymentID,
				AmountCents:       intent.AmountCents,
				Reason:            rejectedCancelled,
			},
			OccurredAt: time.Now().UTC(),
		})
	})
	if err != nil {
		s.logg.Error(ctx, "failed to record rejected payment", err)
		return err
	}
	s.logg.Warn(ctx, "verified payment rejected: order is cancelled")
	return cause
}

// RecordFailure notes a declined gateway attempt without touching order state.
func (s *service) RecordFailure(ctx context.Context, externalIntentID, reason string) error {
	if strings.TrimSpace(externalIntentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	if err := s.repo.RecordFailure(ctx, externalIntentID, reason); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment failure")
	}
	return nil
}
