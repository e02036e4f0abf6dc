package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

// Repository persists customer notifications. Every read and write is scoped
// to one customer; rows of other customers behave as if they did not exist.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	List(ctx context.Context, q Query) ([]models.Notification, error)
	CountUnread(ctx context.Context, customerID uuid.UUID) (int64, error)
	Get(ctx context.Context, customerID, notificationID uuid.UUID) (*models.Notification, error)
	MarkRead(ctx context.Context, customerID, notificationID uuid.UUID, now time.Time) (bool, error)
	MarkAllRead(ctx context.Context, customerID uuid.UUID, orderID *uuid.UUID, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Query selects one page of a customer's notifications, newest first. Limit
// is the raw row count to fetch.
type Query struct {
	CustomerID uuid.UUID
	OrderID    *uuid.UUID
	UnreadOnly bool
	After      *pagination.Cursor
	Limit      int
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) owned(ctx context.Context, customerID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("customer_id = ?", customerID)
}

// Create inserts the notification unless one already exists for its event id,
// so redelivered events never notify twice.
func (r *repository) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(notification)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) List(ctx context.Context, q Query) ([]models.Notification, error) {
	query := r.owned(ctx, q.CustomerID)
	if q.OrderID != nil {
		query = query.Where("order_id = ?", *q.OrderID)
	}
	if q.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if q.After != nil {
		predicate, args := q.After.Predicate()
		query = query.Where(predicate, args...)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []models.Notification
	err := query.Order("created_at DESC").Order("id DESC").Find(&rows).Error
	return rows, err
}

func (r *repository) CountUnread(ctx context.Context, customerID uuid.UUID) (int64, error) {
	var n int64
	err := r.owned(ctx, customerID).Where("read_at IS NULL").Count(&n).Error
	return n, err
}

// Get returns nil without error when the customer has no such notification.
func (r *repository) Get(ctx context.Context, customerID, notificationID uuid.UUID) (*models.Notification, error) {
	var row models.Notification
	err := r.owned(ctx, customerID).Where("id = ?", notificationID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkRead stamps read_at once; it reports false when the row was already read
// or is not the customer's.
func (r *repository) MarkRead(ctx context.Context, customerID, notificationID uuid.UUID, now time.Time) (bool, error) {
	res := r.owned(ctx, customerID).
		Where("id = ? AND read_at IS NULL", notificationID).
		UpdateColumn("read_at", now)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkAllRead(ctx context.Context, customerID uuid.UUID, orderID *uuid.UUID, now time.Time) (int64, error) {
	query := r.owned(ctx, customerID).Where("read_at IS NULL")
	if orderID != nil {
		query = query.Where("order_id = ?", *orderID)
	}
	res := query.UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

// DeleteReadBefore purges notifications read before cutoff, across customers.
func (r *repository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND read_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
