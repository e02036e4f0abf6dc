package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// PaymentIntent correlates a gateway intent with an order. It never drives
// order state on its own.
type PaymentIntent struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;index"`
	ExternalIntentID  string                    `gorm:"column:external_intent_id;not null;uniqueIndex"`
	AmountCents       int64                     `gorm:"column:amount_cents;not null"`
	Currency          string                    `gorm:"column:currency;not null"`
	Status            enums.PaymentIntentStatus `gorm:"column:status;type:text;not null;default:'created'"`
	ExternalPaymentID *string                   `gorm:"column:external_payment_id"`
	FailureReason     *string                   `gorm:"column:failure_reason"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}
