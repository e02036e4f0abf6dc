package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
)

// Event is the order snapshot a hook receives, keyed by the outbox event id.
type Event struct {
	ID    uuid.UUID
	Order payloads.OrderLifecycleEvent
}

// Notifier receives transition hooks. Hooks never fail the caller: errors are
// logged and dropped.
type Notifier interface {
	OnQuotationSent(ctx context.Context, ev Event)
	OnPaymentReceived(ctx context.Context, ev Event)
	OnCompleted(ctx context.Context, ev Event)
	OnCancelled(ctx context.Context, ev Event, reason string)
}

type creator interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

// InAppNotifier stores a customer notification row and logs the dispatch.
type InAppNotifier struct {
	repo creator
	logg *logger.Logger
}

func NewInAppNotifier(repo creator, logg *logger.Logger) (*InAppNotifier, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &InAppNotifier{repo: repo, logg: logg}, nil
}

func (n *InAppNotifier) OnQuotationSent(ctx context.Context, ev Event) {
	n.dispatch(ctx, ev, enums.NotificationTypeQuotationSent,
		"Your quote is ready",
		fmt.Sprintf("Order #%d has been quoted at %s %s.", ev.Order.OrderNumber, formatAmount(ev.Order.TotalCents), currencyCode(ev.Order.Currency)))
}

func (n *InAppNotifier) OnPaymentReceived(ctx context.Context, ev Event) {
	amount := ev.Order.TotalCents
	if ev.Order.PaymentAmountCents != nil {
		amount = *ev.Order.PaymentAmountCents
	}
	n.dispatch(ctx, ev, enums.NotificationTypePaymentReceived,
		"Payment received",
		fmt.Sprintf("We received %s %s for order #%d.", formatAmount(amount), currencyCode(ev.Order.Currency), ev.Order.OrderNumber))
}

func (n *InAppNotifier) OnCompleted(ctx context.Context, ev Event) {
	n.dispatch(ctx, ev, enums.NotificationTypeOrderCompleted,
		"Order completed",
		fmt.Sprintf("Order #%d is complete. Thank you!", ev.Order.OrderNumber))
}

func (n *InAppNotifier) OnCancelled(ctx context.Context, ev Event, reason string) {
	msg := fmt.Sprintf("Order #%d was cancelled.", ev.Order.OrderNumber)
	if reason != "" {
		msg = fmt.Sprintf("Order #%d was cancelled. Reason: %s", ev.Order.OrderNumber, reason)
	}
	n.dispatch(ctx, ev, enums.NotificationTypeOrderCancelled, "Order cancelled", msg)
}

func (n *InAppNotifier) dispatch(ctx context.Context, ev Event, typ enums.NotificationType, title, message string) {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"event_id":          ev.ID.String(),
		"order_id":          ev.Order.OrderID.String(),
		"customer_id":       ev.Order.CustomerID.String(),
		"notification_type": typ,
	})
	if ev.Order.CustomerID == uuid.Nil {
		n.logg.Warn(logCtx, "notification skipped: customer missing")
		return
	}
	created, err := n.repo.Create(ctx, &models.Notification{
		CustomerID: ev.Order.CustomerID,
		OrderID:    ev.Order.OrderID,
		EventID:    ev.ID.String(),
		Type:       typ,
		Title:      title,
		Message:    message,
	})
	if err != nil {
		n.logg.Error(logCtx, "notification dispatch failed", err)
		return
	}
	if !created {
		n.logg.Info(logCtx, "notification already stored")
		return
	}
	n.logg.Info(logCtx, "customer notified")
}
