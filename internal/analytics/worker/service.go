package worker

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
)

const analyticsConsumerName = "analytics"

// Handler records one delivery. Supports lets the worker ack events it has no
// use for without touching the idempotency store.
type Handler interface {
	Supports(eventType enums.OutboxEventType, version int) bool
	Handle(ctx context.Context, delivery outbox.Delivery) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Service consumes order events from Pub/Sub while honoring Redis idempotency.
// A handler failure releases the mark and nacks, so the event is retried.
type Service struct {
	subscription receiver
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

func NewService(subscription receiver, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case manager == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, manager: manager, logg: logg}, nil
}

// Run blocks until ctx is canceled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if s.process(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

type outcome string

const (
	outcomeRecorded  outcome = "recorded"
	outcomeSkipped   outcome = "skipped"
	outcomeDuplicate outcome = "duplicate"
	outcomeMalformed outcome = "malformed"
	outcomeRetry     outcome = "retry"
)

// process reports whether the message should be acked.
func (s *Service) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	result, delivery, err := s.handle(ctx, attrs, data)

	fields := map[string]any{"message_id": messageID, "outcome": result}
	if delivery != nil {
		fields["event_id"] = delivery.EventID.String()
		fields["event_type"] = delivery.EventType
		fields["aggregate_id"] = delivery.AggregateID
	}
	logCtx := s.logg.WithFields(ctx, fields)

	switch result {
	case outcomeRetry:
		s.logg.Error(logCtx, "analytics event failed", err)
		return false
	case outcomeMalformed:
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping malformed analytics event")
	case outcomeRecorded:
		s.logg.Info(logCtx, "analytics event recorded")
	default:
		s.logg.Debug(logCtx, "analytics event not recorded")
	}
	return true
}

func (s *Service) handle(ctx context.Context, attrs map[string]string, data []byte) (outcome, *outbox.Delivery, error) {
	delivery, err := outbox.DecodeDelivery(attrs, data)
	if err != nil {
		return outcomeMalformed, nil, err
	}
	if delivery.AggregateType != enums.AggregateOrder || !s.handler.Supports(delivery.EventType, delivery.Version) {
		return outcomeSkipped, delivery, nil
	}

	already, err := s.manager.CheckAndMarkProcessed(ctx, analyticsConsumerName, delivery.EventID)
	if err != nil {
		return outcomeRetry, delivery, err
	}
	if already {
		return outcomeDuplicate, delivery, nil
	}

	if err := s.handler.Handle(ctx, *delivery); err != nil {
		if errors.Is(err, outbox.ErrMalformedDelivery) {
			return outcomeMalformed, delivery, err
		}
		if delErr := s.manager.Delete(context.WithoutCancel(ctx), analyticsConsumerName, delivery.EventID); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return outcomeRetry, delivery, err
	}
	return outcomeRecorded, delivery, nil
}
