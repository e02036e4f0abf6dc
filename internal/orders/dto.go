package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// MilestoneDTO is one actor-stamped milestone.
type MilestoneDTO struct {
	At *time.Time `json:"at,omitempty"`
	By *uuid.UUID `json:"by,omitempty"`
}

// PaymentDTO describes the recorded payment, if any.
type PaymentDTO struct {
	ReceivedAt *time.Time           `json:"received_at,omitempty"`
	ByRole     *enums.ActorRole     `json:"by_role,omitempty"`
	Method     *enums.PaymentMethod `json:"method,omitempty"`
	Amount     *string              `json:"amount,omitempty"`
	Reference  *string              `json:"reference,omitempty"`
}

// CancellationDTO is present only on cancelled orders.
type CancellationDTO struct {
	Reason string           `json:"reason"`
	ByRole *enums.ActorRole `json:"by_role,omitempty"`
	At     *time.Time       `json:"at,omitempty"`
}

// LineItemDTO is one order line. Prices stay empty until quoted.
type LineItemDTO struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UnitPrice *string   `json:"unit_price,omitempty"`
	LineTotal *string   `json:"line_total,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
}

// OrderDTO is the API shape of an order, with the actions available to the
// viewer precomputed.
type OrderDTO struct {
	ID           uuid.UUID         `json:"id"`
	OrderNumber  int64             `json:"order_number"`
	BusinessID   uuid.UUID         `json:"business_id"`
	BusinessType string            `json:"business_type"`
	CustomerID   uuid.UUID         `json:"customer_id"`
	Status       enums.OrderStatus `json:"status"`
	Version      int64             `json:"version"`
	Currency     string            `json:"currency"`
	Total        string            `json:"total"`
	TotalCents   int64             `json:"total_cents"`
	Notes        *string           `json:"notes,omitempty"`

	QuotationSent MilestoneDTO     `json:"quotation_sent"`
	QuoteApproved MilestoneDTO     `json:"quote_approved"`
	Completed     MilestoneDTO     `json:"completed"`
	Payment       *PaymentDTO      `json:"payment,omitempty"`
	Cancellation  *CancellationDTO `json:"cancellation,omitempty"`

	Items []LineItemDTO `json:"items,omitempty"`

	AllowedTransitions []enums.OrderStatus `json:"allowed_transitions"`
	CanCancel          bool                `json:"can_cancel"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderListDTO is one page of orders.
type OrderListDTO struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// FormatCents renders minor units as a fixed two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func formatCentsPtr(cents *int64) *string {
	if cents == nil {
		return nil
	}
	s := FormatCents(*cents)
	return &s
}

// ProjectOrder maps the row into the DTO seen by viewer.
func ProjectOrder(order models.Order, viewer lifecycle.Actor) OrderDTO {
	dto := OrderDTO{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		BusinessID:    order.BusinessID,
		BusinessType:  order.BusinessType,
		CustomerID:    order.CustomerID,
		Status:        order.Status,
		Version:       order.Version,
		Currency:      order.Currency,
		Total:         FormatCents(order.TotalCents),
		TotalCents:    order.TotalCents,
		Notes:         order.Notes,
		QuotationSent: MilestoneDTO{At: order.QuotationSentAt, By: order.QuotationSentBy},
		QuoteApproved: MilestoneDTO{At: order.QuoteApprovedAt, By: order.QuoteApprovedBy},
		Completed:     MilestoneDTO{At: order.CompletedAt, By: order.CompletedBy},
		CanCancel:     lifecycle.CanCancel(order, viewer.Role),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}

	if order.IsPaid() {
		dto.Payment = &PaymentDTO{
			ReceivedAt: order.PaymentReceivedAt,
			ByRole:     order.PaymentReceivedByRole,
			Method:     order.PaymentMethod,
			Amount:     formatCentsPtr(order.PaymentAmountCents),
			Reference:  order.PaymentReference,
		}
	}
	if order.IsCancelled {
		reason := ""
		if order.CancellationReason != nil {
			reason = *order.CancellationReason
		}
		dto.Cancellation = &CancellationDTO{Reason: reason, ByRole: order.CancelledByRole, At: order.CancelledAt}
	}

	dto.AllowedTransitions = []enums.OrderStatus{}
	if viewer.IsStaff() && !order.IsCancelled {
		for _, next := range lifecycle.NextStatuses(order.Status) {
			if next == enums.OrderStatusPaymentReceived && order.IsPaid() {
				continue
			}
			dto.AllowedTransitions = append(dto.AllowedTransitions, next)
		}
	}

	for _, item := range order.Items {
		dto.Items = append(dto.Items, LineItemDTO{
			ID:        item.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: formatCentsPtr(item.UnitPriceCents),
			LineTotal: formatCentsPtr(item.LineTotalCents),
			Notes:     item.Notes,
		})
	}
	return dto
}
