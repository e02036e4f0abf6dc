package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem is owned by exactly one order. LineTotalCents is derived from
// Quantity and UnitPriceCents whenever a price is known.
type OrderLineItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	Name           string    `gorm:"column:name;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	UnitPriceCents *int64    `gorm:"column:unit_price_cents"`
	LineTotalCents *int64    `gorm:"column:line_total_cents"`
	Notes          *string   `gorm:"column:notes"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderLineItem) TableName() string {
	return "order_line_items"
}
