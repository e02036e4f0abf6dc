package payloads

import (
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/google/uuid"
)

// OrderLifecycleEvent is the payload shared by every order trigger event. The
// snapshot fields let consumers act without reading the orders table.
type OrderLifecycleEvent struct {
	OrderID            uuid.UUID            `json:"order_id"`
	OrderNumber        int64                `json:"order_number"`
	CustomerID         uuid.UUID            `json:"customer_id"`
	BusinessID         uuid.UUID            `json:"business_id"`
	BusinessType       string               `json:"business_type"`
	FromStatus         enums.OrderStatus    `json:"from_status,omitempty"`
	ToStatus           enums.OrderStatus    `json:"to_status"`
	Version            int64                `json:"version"`
	ActorRole          enums.ActorRole      `json:"actor_role"`
	TotalCents         int64                `json:"total_cents"`
	Currency           string               `json:"currency"`
	PaymentMethod      *enums.PaymentMethod `json:"payment_method,omitempty"`
	PaymentAmountCents *int64               `json:"payment_amount_cents,omitempty"`
	CancellationReason string               `json:"cancellation_reason,omitempty"`
	OccurredAt         time.Time            `json:"occurred_at"`
}

// PaymentRejectedEvent records a verified payment that could not be applied,
// typically because the order was cancelled before the callback arrived.
type PaymentRejectedEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	PaymentIntentID   uuid.UUID `json:"payment_intent_id"`
	ExternalIntentID  string    `json:"external_intent_id"`
	ExternalPaymentID string    `json:"external_payment_id"`
	AmountCents       int64     `json:"amount_cents"`
	Reason            string    `json:"reason"`
}

// Validate rejects lifecycle payloads no consumer could act on.
func (e OrderLifecycleEvent) Validate() error {
	if e.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	if !e.ToStatus.IsValid() {
		return fmt.Errorf("invalid to_status %q", e.ToStatus)
	}
	if e.FromStatus != "" && !e.FromStatus.IsValid() {
		return fmt.Errorf("invalid from_status %q", e.FromStatus)
	}
	if e.Version < 1 {
		return fmt.Errorf("version must be positive, got %d", e.Version)
	}
	return nil
}

func (e PaymentRejectedEvent) Validate() error {
	switch {
	case e.OrderID == uuid.Nil:
		return errors.New("order_id is required")
	case e.PaymentIntentID == uuid.Nil:
		return errors.New("payment_intent_id is required")
	case e.ExternalIntentID == "":
		return errors.New("external_intent_id is required")
	}
	return nil
}
