package notifications

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
	"github.com/angelmondragon/orderdesk/pkg/outbox/registry"
)

const orderNotificationConsumer = "order-notifications"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type processedMarker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
}

// Consumer reads order lifecycle events from Pub/Sub and fires notifier hooks.
// An event is marked processed before dispatch, so each hook is attempted at
// most once even when Pub/Sub redelivers.
type Consumer struct {
	subscription receiver
	idempotency  processedMarker
	decoders     *registry.Decoder[payloads.OrderLifecycleEvent]
	notifier     Notifier
	logg         *logger.Logger
}

// NewConsumer builds the order notification consumer.
func NewConsumer(subscription receiver, marker processedMarker, notifier Notifier, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("orders subscription required")
	}
	if marker == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		idempotency:  marker,
		decoders:     registry.NewLifecycleDecoder(),
		notifier:     notifier,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": attrs[outbox.AttrEventType],
	})

	delivery, err := outbox.DecodeDelivery(attrs, data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode delivery", err)
		return true
	}
	eventType, eventID := delivery.EventType, delivery.EventID
	if delivery.AggregateType != enums.AggregateOrder || !c.decoders.Supports(eventType, delivery.Version) {
		c.logg.Debug(logCtx, "skipping event without notification")
		return true
	}

	order, err := c.decoders.Decode(eventType, delivery.Version, delivery.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return true
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return true
	}

	ev := Event{ID: eventID, Order: order}
	hookCtx := c.logg.WithOrderID(logCtx, order.OrderID.String())
	switch eventType {
	case enums.EventOrderQuotationSent:
		c.notifier.OnQuotationSent(hookCtx, ev)
	case enums.EventOrderPaid:
		c.notifier.OnPaymentReceived(hookCtx, ev)
	case enums.EventOrderCompleted:
		c.notifier.OnCompleted(hookCtx, ev)
	case enums.EventOrderCancelled:
		c.notifier.OnCancelled(hookCtx, ev, order.CancellationReason)
	default:
		c.logg.Debug(logCtx, "no hook for event")
	}
	return true
}
