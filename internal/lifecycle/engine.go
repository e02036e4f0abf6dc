package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
)

// Milestone names an actor-stamped timestamp pair on the order row.
type Milestone string

const (
	MilestoneQuotationSent   Milestone = "quotation_sent"
	MilestoneQuoteApproved   Milestone = "quote_approved"
	MilestonePaymentReceived Milestone = "payment_received"
	MilestoneCompleted       Milestone = "completed"
)

// Stamp is one milestone write. Stamps are written with COALESCE so an
// existing value always wins.
type Stamp struct {
	Milestone Milestone
	At        time.Time
	By        *uuid.UUID
	Role      enums.ActorRole
}

// AppliedTransition is the engine's verdict for an accepted request.
type AppliedTransition struct {
	From   enums.OrderStatus
	To     enums.OrderStatus
	Stamps []Stamp
	// NoOp is set when the order already reflects the request. Nothing should be written.
	NoOp bool
	// Trigger is the notification the transition fires, empty when none.
	Trigger enums.NotificationType
}

// adjacency is the complete set of forward edges. Cancellation is not here; it
// goes through Engine.Cancel.
var adjacency = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:         {enums.OrderStatusQuotationSent, enums.OrderStatusPaymentReceived},
	enums.OrderStatusQuotationSent:   {enums.OrderStatusQuoteApproved, enums.OrderStatusPaymentReceived},
	enums.OrderStatusQuoteApproved:   {enums.OrderStatusPaymentPending, enums.OrderStatusPaymentReceived},
	enums.OrderStatusPaymentPending:  {enums.OrderStatusPaymentReceived},
	enums.OrderStatusPaymentReceived: {enums.OrderStatusCompleted},
	enums.OrderStatusCompleted:       nil,
	enums.OrderStatusCancelled:       nil,
}

// systemTargets are the only statuses the system actor may move an order to.
var systemTargets = map[enums.OrderStatus]bool{
	enums.OrderStatusPaymentReceived: true,
	enums.OrderStatusPaymentPending:  true,
}

var milestoneFor = map[enums.OrderStatus]Milestone{
	enums.OrderStatusQuotationSent:   MilestoneQuotationSent,
	enums.OrderStatusQuoteApproved:   MilestoneQuoteApproved,
	enums.OrderStatusPaymentReceived: MilestonePaymentReceived,
	enums.OrderStatusCompleted:       MilestoneCompleted,
}

var triggerFor = map[enums.OrderStatus]enums.NotificationType{
	enums.OrderStatusQuotationSent:   enums.NotificationTypeQuotationSent,
	enums.OrderStatusPaymentReceived: enums.NotificationTypePaymentReceived,
	enums.OrderStatusCompleted:       enums.NotificationTypeOrderCompleted,
}

// Engine evaluates status change requests. It holds no state besides a clock
// and never touches storage.
type Engine struct {
	now func() time.Time
}

// NewEngine builds an engine. A nil clock defaults to time.Now.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// CanTransition reports whether to is a direct successor of from.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range adjacency[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from the given one.
func NextStatuses(from enums.OrderStatus) []enums.OrderStatus {
	out := make([]enums.OrderStatus, len(adjacency[from]))
	copy(out, adjacency[from])
	return out
}

// Transition decides whether actor may move order to requested.
func (e *Engine) Transition(order models.Order, requested enums.OrderStatus, actor Actor) (AppliedTransition, error) {
	if !requested.IsValid() {
		return AppliedTransition{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": requested})
	}
	if requested == enums.OrderStatusCancelled {
		return AppliedTransition{}, pkgerrors.New(pkgerrors.CodeValidation, "use the cancellation endpoint to cancel an order")
	}
	if err := actor.Validate(); err != nil {
		return AppliedTransition{}, err
	}

	current := order.Status
	if current == enums.OrderStatusCancelled || order.IsCancelled {
		return AppliedTransition{}, illegal(current, requested, "order is cancelled")
	}

	switch actor.Role {
	case enums.ActorRoleCustomer:
		return AppliedTransition{}, pkgerrors.New(pkgerrors.CodeForbidden, "customers cannot change order status")
	case enums.ActorRoleSystem:
		if !systemTargets[requested] {
			return AppliedTransition{}, pkgerrors.New(pkgerrors.CodeForbidden, "system actor may only record payment progress")
		}
	}

	noop := AppliedTransition{From: current, To: current, NoOp: true}
	if requested == enums.OrderStatusPaymentReceived && order.PaymentReceivedAt != nil {
		return noop, nil
	}
	if requested == current {
		return noop, nil
	}

	if !CanTransition(current, requested) {
		return AppliedTransition{}, illegal(current, requested, "transition not allowed")
	}

	applied := AppliedTransition{
		From:    current,
		To:      requested,
		Trigger: triggerFor[requested],
	}
	if milestone, ok := milestoneFor[requested]; ok {
		applied.Stamps = []Stamp{{
			Milestone: milestone,
			At:        e.now().UTC(),
			By:        actor.UserID,
			Role:      actor.Role,
		}}
	}
	return applied, nil
}

func illegal(from, to enums.OrderStatus, msg string) error {
	return pkgerrors.New(pkgerrors.CodeIllegalTransition, msg).
		WithDetails(map[string]any{"from": from, "to": to})
}
