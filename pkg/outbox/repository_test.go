package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
)

func newOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}))
	return conn
}

func emitLifecycle(t *testing.T, svc *Service, conn *gorm.DB, orderID uuid.UUID) {
	t.Helper()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{Role: enums.ActorRoleStaff.String()},
			Data: payloads.OrderLifecycleEvent{
				OrderID:  orderID,
				ToStatus: enums.OrderStatusQuotationSent,
				Version:  2,
			},
		})
	})
	require.NoError(t, err)
}

func TestEmitWritesEnvelopeKeyedByRowID(t *testing.T) {
	conn := newOutboxTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	orderID := uuid.New()

	emitLifecycle(t, svc, conn, orderID)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	assert.Equal(t, 1, envelope.Version)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "staff", envelope.Actor.Role)

	var data payloads.OrderLifecycleEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, enums.OrderStatusQuotationSent, data.ToStatus)
}

func TestEmitRollsBackWithCallerTransaction(t *testing.T) {
	conn := newOutboxTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          payloads.OrderLifecycleEvent{},
		}); err != nil {
			return err
		}
		return errors.New("write failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitValidatesInput(t *testing.T) {
	conn := newOutboxTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Emit(ctx, nil, DomainEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder}), ErrTxRequired)
	assert.ErrorIs(t, svc.Emit(ctx, conn, DomainEvent{EventType: "bogus", AggregateType: enums.AggregateOrder}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Emit(ctx, conn, DomainEvent{EventType: enums.EventOrderPaid, AggregateType: "bogus"}), ErrInvalidEvent)
	assert.Error(t, svc.Emit(ctx, conn, DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		Data:          map[string]any{"bad": make(chan int)},
	}))
}

func TestEmitBatchIsAllOrNothing(t *testing.T) {
	conn := newOutboxTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	orderID := uuid.New()

	good := DomainEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: orderID}
	bad := DomainEvent{EventType: "bogus", AggregateType: enums.AggregateOrder, AggregateID: orderID}
	require.ErrorIs(t, svc.Emit(context.Background(), conn, good, bad), ErrInvalidEvent)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)

	completed := good
	completed.EventType = enums.EventOrderCompleted
	require.NoError(t, svc.Emit(context.Background(), conn, good, completed))
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestFetchMarkAndPurge(t *testing.T) {
	conn := newOutboxTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	for i := 0; i < 3; i++ {
		emitLifecycle(t, svc, conn, uuid.New())
	}

	var rows []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, rows, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, rows[1].ID, errors.New("topic unavailable")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[2].ID, errors.New("bad payload"), 3)
	}))

	var pending []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		pending, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, pending, 1)
	assert.Equal(t, rows[1].ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].AttemptCount)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "topic unavailable", *pending[0].LastError)

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestDLQRepositoryTalliesByReason(t *testing.T) {
	conn := newOutboxTestDB(t)
	repo := NewDLQRepository(conn)
	long := strings.Repeat("x", maxLastErrorLen+50)

	insert := func(reason enums.OutboxDLQErrorReason, msg *string) error {
		return conn.Transaction(func(tx *gorm.DB) error {
			return repo.InsertTx(tx, models.OutboxDLQ{
				EventID:       uuid.New(),
				EventType:     enums.EventOrderPaid,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       json.RawMessage(`{}`),
				ErrorReason:   reason,
				ErrorMessage:  msg,
				AttemptCount:  1,
			})
		})
	}
	require.NoError(t, insert(enums.OutboxDLQReasonNonRetryable, &long))
	require.NoError(t, insert(enums.OutboxDLQReasonNonRetryable, nil))
	require.NoError(t, insert(enums.OutboxDLQReasonMaxAttempts, nil))
	assert.Error(t, insert("gave_up", nil))

	var stored models.OutboxDLQ
	require.NoError(t, conn.Where("error_message IS NOT NULL").First(&stored).Error)
	assert.Len(t, *stored.ErrorMessage, maxLastErrorLen)

	tally, err := repo.TallySince(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DLQTally{
		enums.OutboxDLQReasonNonRetryable: 2,
		enums.OutboxDLQReasonMaxAttempts:  1,
	}, tally)
	assert.EqualValues(t, 3, tally.Total())

	later, err := repo.TallySince(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, later.Total())
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "", truncateError(nil))
	long := make([]byte, maxLastErrorLen+10)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncateError(errors.New(string(long))), maxLastErrorLen)
}
