package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderdesk/internal/analytics/types"
	"github.com/angelmondragon/orderdesk/internal/analytics/writer"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
	"github.com/angelmondragon/orderdesk/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by the router.
type Writer interface {
	InsertTransition(ctx context.Context, row types.TransitionRow) error
}

// Router turns order lifecycle envelopes into transition rows.
type Router struct {
	writer   Writer
	decoders *registry.Decoder[payloads.OrderLifecycleEvent]
	logg     *logger.Logger
	now      func() time.Time
}

// NewRouter wires the order lifecycle decoders.
func NewRouter(w Writer, logg *logger.Logger) (*Router, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Router{
		writer:   w,
		decoders: registry.NewLifecycleDecoder(),
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Supports reports whether the event produces a transition row.
func (r *Router) Supports(eventType enums.OutboxEventType, version int) bool {
	return r.decoders.Supports(eventType, payloadVersion(version))
}

// Handle writes the transition row for one lifecycle event. Payloads that do
// not decode are reported as outbox.ErrMalformedDelivery.
func (r *Router) Handle(ctx context.Context, delivery outbox.Delivery) error {
	version := payloadVersion(delivery.Version)
	if !r.decoders.Supports(delivery.EventType, version) {
		return ErrUnsupportedEventType
	}
	event, err := r.decoders.Decode(delivery.EventType, version, delivery.Data)
	if err != nil {
		return fmt.Errorf("%w: %s payload: %v", outbox.ErrMalformedDelivery, delivery.EventType, err)
	}

	row, err := r.buildRow(delivery, &event)
	if err != nil {
		return err
	}
	if err := r.writer.InsertTransition(ctx, row); err != nil {
		return err
	}
	r.logg.Debug(ctx, "order transition recorded")
	return nil
}

func (r *Router) buildRow(delivery outbox.Delivery, event *payloads.OrderLifecycleEvent) (types.TransitionRow, error) {
	payload, err := writer.EncodeJSON(delivery.Data)
	if err != nil {
		return types.TransitionRow{}, err
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = delivery.OccurredAt
	}

	row := types.TransitionRow{
		EventID:            delivery.EventID.String(),
		EventType:          string(delivery.EventType),
		OrderID:            event.OrderID.String(),
		OrderNumber:        event.OrderNumber,
		CustomerID:         event.CustomerID.String(),
		BusinessID:         event.BusinessID.String(),
		BusinessType:       event.BusinessType,
		FromStatus:         nullString(string(event.FromStatus)),
		ToStatus:           string(event.ToStatus),
		Version:            event.Version,
		ActorRole:          string(event.ActorRole),
		Total:              centsToDecimal(event.TotalCents),
		Currency:           event.Currency,
		CancellationReason: nullString(event.CancellationReason),
		OccurredAt:         occurredAt.UTC(),
		IngestedAt:         r.now().UTC(),
		Payload:            payload,
	}
	if event.PaymentMethod != nil {
		row.PaymentMethod = nullString(string(*event.PaymentMethod))
	}
	if event.PaymentAmountCents != nil {
		row.PaymentAmount = nullString(centsToDecimal(*event.PaymentAmountCents))
	}
	return row, nil
}

// envelopes written before versioning carry 0
func payloadVersion(v int) int {
	if v == 0 {
		return 1
	}
	return v
}

func centsToDecimal(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func nullString(value string) bigquery.NullString {
	if value == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: value, Valid: true}
}
