package notifications

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/db/dbtest"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func lifecycleEvent(customerID uuid.UUID) Event {
	amount := int64(2500)
	return Event{
		ID: uuid.New(),
		Order: payloads.OrderLifecycleEvent{
			OrderID:            uuid.New(),
			OrderNumber:        1042,
			CustomerID:         customerID,
			TotalCents:         2500,
			Currency:           "usd",
			PaymentAmountCents: &amount,
		},
	}
}

func TestInAppNotifierStoresOneRowPerEvent(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	notifier, err := NewInAppNotifier(repo, testLogger())
	require.NoError(t, err)
	ctx := context.Background()
	customerID := uuid.New()

	ev := lifecycleEvent(customerID)
	notifier.OnPaymentReceived(ctx, ev)
	notifier.OnPaymentReceived(ctx, ev)
	notifier.OnCancelled(ctx, lifecycleEvent(customerID), "customer asked")

	rows, err := repo.List(ctx, Query{CustomerID: customerID})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byType := map[enums.NotificationType]models.Notification{}
	for _, row := range rows {
		byType[row.Type] = row
	}
	assert.Equal(t, "We received 25.00 USD for order #1042.", byType[enums.NotificationTypePaymentReceived].Message)
	assert.Contains(t, byType[enums.NotificationTypeOrderCancelled].Message, "customer asked")
}

type failingCreator struct{ calls int }

func (f *failingCreator) Create(context.Context, *models.Notification) (bool, error) {
	f.calls++
	return false, errors.New("db down")
}

func TestInAppNotifierSwallowsFailures(t *testing.T) {
	repo := &failingCreator{}
	notifier, err := NewInAppNotifier(repo, testLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		notifier.OnCompleted(context.Background(), lifecycleEvent(uuid.New()))
	})
	assert.Equal(t, 1, repo.calls)

	notifier.OnQuotationSent(context.Background(), lifecycleEvent(uuid.Nil))
	assert.Equal(t, 1, repo.calls, "events without a customer are skipped")
}
