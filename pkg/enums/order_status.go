package enums

import "slices"

// OrderStatus is the lifecycle status of an order. The happy path runs
// pending → quotation_sent → quote_approved → payment_pending →
// payment_received → completed; cancelled is terminal and orthogonal.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusQuotationSent   OrderStatus = "quotation_sent"
	OrderStatusQuoteApproved   OrderStatus = "quote_approved"
	OrderStatusPaymentPending  OrderStatus = "payment_pending"
	OrderStatusPaymentReceived OrderStatus = "payment_received"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusQuotationSent,
	OrderStatusQuoteApproved,
	OrderStatusPaymentPending,
	OrderStatusPaymentReceived,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// OrderStatuses returns every status in happy-path order, cancelled last.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(validOrderStatuses))
	copy(out, validOrderStatuses)
	return out
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	return slices.Contains(validOrderStatuses, s)
}

// IsTerminal reports whether no further status change is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse(validOrderStatuses, value, "order status")
}
