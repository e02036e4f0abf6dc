package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/internal/analytics/types"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
)

type fakeWriter struct {
	rows []types.TransitionRow
	err  error
}

func (f *fakeWriter) InsertTransition(_ context.Context, row types.TransitionRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

func newTestRouter(t *testing.T, w Writer) *Router {
	t.Helper()
	r, err := NewRouter(w, logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC) }
	return r
}

func envelopeFor(t *testing.T, eventType enums.OutboxEventType, event payloads.OrderLifecycleEvent) outbox.Delivery {
	t.Helper()
	if event.ToStatus == "" {
		event.ToStatus = enums.OrderStatusPending
	}
	if event.Version == 0 {
		event.Version = 1
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return outbox.Delivery{
		EventID:       uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   event.OrderID.String(),
		Version:       1,
		OccurredAt:    time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Data:          raw,
	}
}

func TestRouterBuildsPaidRow(t *testing.T) {
	w := &fakeWriter{}
	r := newTestRouter(t, w)
	method := enums.PaymentMethodOnline
	amount := int64(12345)
	event := payloads.OrderLifecycleEvent{
		OrderID:            uuid.New(),
		OrderNumber:        77,
		CustomerID:         uuid.New(),
		BusinessID:         uuid.New(),
		BusinessType:       "print_shop",
		FromStatus:         enums.OrderStatusQuotationSent,
		ToStatus:           enums.OrderStatusPaymentReceived,
		Version:            3,
		ActorRole:          enums.ActorRoleSystem,
		TotalCents:         12345,
		Currency:           "usd",
		PaymentMethod:      &method,
		PaymentAmountCents: &amount,
	}

	require.NoError(t, r.Handle(context.Background(), envelopeFor(t, enums.EventOrderPaid, event)))
	require.Len(t, w.rows, 1)
	row := w.rows[0]
	assert.Equal(t, "order_paid", row.EventType)
	assert.Equal(t, "123.45", row.Total)
	assert.Equal(t, "123.45", row.PaymentAmount.StringVal)
	assert.Equal(t, "online", row.PaymentMethod.StringVal)
	assert.Equal(t, "quotation_sent", row.FromStatus.StringVal)
	assert.False(t, row.CancellationReason.Valid)
	assert.Equal(t, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC), row.OccurredAt, "falls back to envelope time")
	assert.True(t, row.Payload.Valid)
}

func TestRouterRejectsUnsupportedEvents(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{})
	env := envelopeFor(t, enums.EventPaymentRejected, payloads.OrderLifecycleEvent{OrderID: uuid.New()})
	assert.ErrorIs(t, r.Handle(context.Background(), env), ErrUnsupportedEventType)
}

func TestRouterSurfacesWriterErrors(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{err: errors.New("bq down")})
	env := envelopeFor(t, enums.EventOrderCancelled, payloads.OrderLifecycleEvent{OrderID: uuid.New(), CancellationReason: "late"})
	assert.Error(t, r.Handle(context.Background(), env))
}

func TestRouterSupports(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{})
	assert.True(t, r.Supports(enums.EventOrderPaid, 0))
	assert.True(t, r.Supports(enums.EventOrderCreated, 1))
	assert.False(t, r.Supports(enums.EventPaymentRejected, 1))
}

func TestRouterFlagsUndecodablePayload(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{})
	env := envelopeFor(t, enums.EventOrderPaid, payloads.OrderLifecycleEvent{OrderID: uuid.New()})
	env.Data = []byte(`not json`)
	assert.ErrorIs(t, r.Handle(context.Background(), env), outbox.ErrMalformedDelivery)
}
