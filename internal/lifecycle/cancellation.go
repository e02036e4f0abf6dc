package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
)

const maxReasonLength = 500

var customerCancellable = map[enums.OrderStatus]bool{
	enums.OrderStatusPending:       true,
	enums.OrderStatusQuotationSent: true,
	enums.OrderStatusQuoteApproved: true,
}

// CanCancel reports whether role may cancel order in its current state.
func CanCancel(order models.Order, role enums.ActorRole) bool {
	if order.IsCancelled || order.Status == enums.OrderStatusCancelled {
		return false
	}
	switch role {
	case enums.ActorRoleStaff:
		return order.Status != enums.OrderStatusCompleted
	case enums.ActorRoleCustomer:
		return customerCancellable[order.Status] && order.PaymentReceivedAt == nil
	default:
		return false
	}
}

// Cancellation is the terminal write produced by Engine.Cancel.
type Cancellation struct {
	From   enums.OrderStatus
	Reason string
	Role   enums.ActorRole
	By     *uuid.UUID
	At     time.Time
	// NoOp is set when the order was already cancelled; the first reason stands.
	NoOp bool
}

// Cancel validates a cancellation request and builds the write.
func (e *Engine) Cancel(order models.Order, actor Actor, reason string) (Cancellation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Cancellation{}, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}
	if len(reason) > maxReasonLength {
		return Cancellation{}, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is too long")
	}
	if err := actor.Validate(); err != nil {
		return Cancellation{}, err
	}

	if order.IsCancelled || order.Status == enums.OrderStatusCancelled {
		existing := reason
		if order.CancellationReason != nil {
			existing = *order.CancellationReason
		}
		out := Cancellation{From: order.Status, Reason: existing, NoOp: true}
		if order.CancelledByRole != nil {
			out.Role = *order.CancelledByRole
		}
		return out, nil
	}
	if order.Status == enums.OrderStatusCompleted {
		return Cancellation{}, illegal(order.Status, enums.OrderStatusCancelled, "completed orders cannot be cancelled")
	}
	if !CanCancel(order, actor.Role) {
		return Cancellation{}, pkgerrors.New(pkgerrors.CodeForbidden, "cancellation not allowed for this actor at the current stage").
			WithDetails(map[string]any{"status": order.Status, "role": actor.Role})
	}

	return Cancellation{
		From:   order.Status,
		Reason: reason,
		Role:   actor.Role,
		By:     actor.UserID,
		At:     e.now().UTC(),
	}, nil
}
