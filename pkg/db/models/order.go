package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// Order is the authoritative order row. JSON tags mirror the column names so
// rows emitted by the order_changes trigger decode straight into this type.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderNumber  int64             `gorm:"column:order_number;not null;uniqueIndex" json:"order_number"`
	BusinessID   uuid.UUID         `gorm:"column:business_id;type:uuid;not null" json:"business_id"`
	BusinessType string            `gorm:"column:business_type;not null" json:"business_type"`
	CustomerID   uuid.UUID         `gorm:"column:customer_id;type:uuid;not null" json:"customer_id"`
	Status       enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	Version      int64             `gorm:"column:version;not null;default:1" json:"version"`
	Currency     string            `gorm:"column:currency;not null;default:'usd'" json:"currency"`
	TotalCents   int64             `gorm:"column:total_cents;not null;default:0" json:"total_cents"`
	Notes        *string           `gorm:"column:notes" json:"notes"`

	QuotationSentAt *time.Time `gorm:"column:quotation_sent_at" json:"quotation_sent_at"`
	QuotationSentBy *uuid.UUID `gorm:"column:quotation_sent_by;type:uuid" json:"quotation_sent_by"`
	QuoteApprovedAt *time.Time `gorm:"column:quote_approved_at" json:"quote_approved_at"`
	QuoteApprovedBy *uuid.UUID `gorm:"column:quote_approved_by;type:uuid" json:"quote_approved_by"`

	PaymentReceivedAt     *time.Time           `gorm:"column:payment_received_at" json:"payment_received_at"`
	PaymentReceivedBy     *uuid.UUID           `gorm:"column:payment_received_by;type:uuid" json:"payment_received_by"`
	PaymentReceivedByRole *enums.ActorRole     `gorm:"column:payment_received_by_role;type:text" json:"payment_received_by_role"`
	PaymentMethod         *enums.PaymentMethod `gorm:"column:payment_method;type:text" json:"payment_method"`
	PaymentAmountCents    *int64               `gorm:"column:payment_amount_cents" json:"payment_amount_cents"`
	PaymentReference      *string              `gorm:"column:payment_reference" json:"payment_reference"`

	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at"`
	CompletedBy *uuid.UUID `gorm:"column:completed_by;type:uuid" json:"completed_by"`

	IsCancelled        bool             `gorm:"column:is_cancelled;not null;default:false" json:"is_cancelled"`
	CancellationReason *string          `gorm:"column:cancellation_reason" json:"cancellation_reason"`
	CancelledByRole    *enums.ActorRole `gorm:"column:cancelled_by_role;type:text" json:"cancelled_by_role"`
	CancelledBy        *uuid.UUID       `gorm:"column:cancelled_by;type:uuid" json:"cancelled_by"`
	CancelledAt        *time.Time       `gorm:"column:cancelled_at" json:"cancelled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Items []OrderLineItem `gorm:"foreignKey:OrderID;references:ID" json:"-"`
}

// TableName pins the gorm table.
func (Order) TableName() string {
	return "orders"
}

// IsPaid reports whether a payment stamp exists, independent of status.
func (o Order) IsPaid() bool {
	return o.PaymentReceivedAt != nil
}
