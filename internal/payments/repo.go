package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// applicable are the intent states a verified callback may still settle.
// Expired intents are included because a late gateway confirmation is still money received.
var applicable = []enums.PaymentIntentStatus{
	enums.PaymentIntentStatusCreated,
	enums.PaymentIntentStatusExpired,
}

// Repository persists payment intent correlation rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByExternalID(ctx context.Context, externalID string) (*models.PaymentIntent, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, externalPaymentID string) (bool, error)
	MarkRejected(ctx context.Context, id uuid.UUID, externalPaymentID, reason string) (bool, error)
	RecordFailure(ctx context.Context, externalID, reason string) error
	SupersedeOpenIntents(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	ExpireCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository binds the payment intent repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) FindByExternalID(ctx context.Context, externalID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("external_intent_id = ?", externalID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

// MarkSucceeded settles an open intent. It returns false when the intent was
// already settled some other way.
func (r *repository) MarkSucceeded(ctx context.Context, id uuid.UUID, externalPaymentID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status IN ?", id, applicable).
		Updates(map[string]any{
			"status":              enums.PaymentIntentStatusSucceeded,
			"external_payment_id": externalPaymentID,
			"updated_at":          r.now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkRejected(ctx context.Context, id uuid.UUID, externalPaymentID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status IN ?", id, applicable).
		Updates(map[string]any{
			"status":              enums.PaymentIntentStatusRejected,
			"external_payment_id": externalPaymentID,
			"failure_reason":      reason,
			"updated_at":          r.now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// RecordFailure notes a declined attempt. The intent stays open because the
// customer may retry it.
func (r *repository) RecordFailure(ctx context.Context, externalID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("external_intent_id = ? AND status = ?", externalID, enums.PaymentIntentStatusCreated).
		Updates(map[string]any{
			"failure_reason": reason,
			"updated_at":     r.now().UTC(),
		}).Error
}

// SupersedeOpenIntents closes every open intent of the order using tx. Staff
// call it when payment was taken outside the gateway.
func (r *repository) SupersedeOpenIntents(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	res := db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentIntentStatusCreated).
		Updates(map[string]any{
			"status":     enums.PaymentIntentStatusSuperseded,
			"updated_at": r.now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ExpireCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("status = ? AND created_at < ?", enums.PaymentIntentStatusCreated, cutoff).
		Updates(map[string]any{
			"status":     enums.PaymentIntentStatusExpired,
			"updated_at": r.now().UTC(),
		})
	return res.RowsAffected, res.Error
}
