package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/db/dbtest"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

func newNotification(customerID uuid.UUID, eventID string, createdAt time.Time) *models.Notification {
	return &models.Notification{
		CustomerID: customerID,
		OrderID:    uuid.New(),
		EventID:    eventID,
		Type:       enums.NotificationTypeOrderCompleted,
		Title:      "Order completed",
		Message:    "done",
		CreatedAt:  createdAt,
	}
}

func TestRepositoryCreateIsUniquePerEvent(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	customerID := uuid.New()

	created, err := repo.Create(ctx, newNotification(customerID, "evt-1", time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(ctx, newNotification(customerID, "evt-1", time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, created, "duplicate event id must be ignored")

	rows, err := repo.List(ctx, Query{CustomerID: customerID, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRepositoryListPagesNewestFirst(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	customerID := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, newNotification(customerID, uuid.NewString(), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, newNotification(uuid.New(), uuid.NewString(), base))
	require.NoError(t, err)

	page, err := repo.List(ctx, Query{CustomerID: customerID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	last := page[1]
	rest, err := repo.List(ctx, Query{CustomerID: customerID, Limit: 2, After: &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.True(t, rest[0].CreatedAt.Before(last.CreatedAt))
}

func TestRepositoryListFiltersByOrderAndUnread(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	customerID := uuid.New()
	now := time.Now().UTC()

	first := newNotification(customerID, "evt-a", now)
	second := newNotification(customerID, "evt-b", now.Add(time.Second))
	second.OrderID = first.OrderID
	other := newNotification(customerID, "evt-c", now)
	for _, n := range []*models.Notification{first, second, other} {
		_, err := repo.Create(ctx, n)
		require.NoError(t, err)
	}
	_, err := repo.MarkRead(ctx, customerID, second.ID, now)
	require.NoError(t, err)

	rows, err := repo.List(ctx, Query{CustomerID: customerID, OrderID: &first.OrderID})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.List(ctx, Query{CustomerID: customerID, OrderID: &first.OrderID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].ID)

	unread, err := repo.CountUnread(ctx, customerID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)
}

func TestRepositoryMarkReadScopedToCustomer(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	customerID := uuid.New()
	n := newNotification(customerID, "evt-read", time.Now().UTC())
	_, err := repo.Create(ctx, n)
	require.NoError(t, err)

	changed, err := repo.MarkRead(ctx, uuid.New(), n.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changed)
	got, err := repo.Get(ctx, uuid.New(), n.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "other customers cannot see the row")

	changed, err = repo.MarkRead(ctx, customerID, n.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkRead(ctx, customerID, n.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changed)

	got, err = repo.Get(ctx, customerID, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.ReadAt)

	unread, err := repo.List(ctx, Query{CustomerID: customerID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)

	count, err := repo.MarkAllRead(ctx, customerID, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRepositoryMarkAllReadByOrder(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	customerID := uuid.New()
	a := newNotification(customerID, "evt-1", time.Now().UTC())
	b := newNotification(customerID, "evt-2", time.Now().UTC())
	for _, n := range []*models.Notification{a, b} {
		_, err := repo.Create(ctx, n)
		require.NoError(t, err)
	}

	count, err := repo.MarkAllRead(ctx, customerID, &a.OrderID, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	unread, err := repo.CountUnread(ctx, customerID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)
}

func TestRepositoryDeleteReadBefore(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	customerID := uuid.New()
	read := newNotification(customerID, "evt-old", time.Now().UTC())
	unread := newNotification(customerID, "evt-new", time.Now().UTC())
	for _, n := range []*models.Notification{read, unread} {
		_, err := repo.Create(ctx, n)
		require.NoError(t, err)
	}
	_, err := repo.MarkRead(ctx, customerID, read.ID, time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)

	deleted, err := repo.DeleteReadBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rows, err := repo.List(ctx, Query{CustomerID: customerID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, unread.ID, rows[0].ID)
}
