package enums

import "slices"

// PaymentIntentStatus tracks the local correlation record for a gateway intent.
type PaymentIntentStatus string

const (
	PaymentIntentStatusCreated    PaymentIntentStatus = "created"
	PaymentIntentStatusSucceeded  PaymentIntentStatus = "succeeded"
	PaymentIntentStatusRejected   PaymentIntentStatus = "rejected"
	PaymentIntentStatusSuperseded PaymentIntentStatus = "superseded"
	PaymentIntentStatusExpired    PaymentIntentStatus = "expired"
)

var validPaymentIntentStatuses = []PaymentIntentStatus{
	PaymentIntentStatusCreated,
	PaymentIntentStatusSucceeded,
	PaymentIntentStatusRejected,
	PaymentIntentStatusSuperseded,
	PaymentIntentStatusExpired,
}

func (s PaymentIntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentIntentStatus.
func (s PaymentIntentStatus) IsValid() bool {
	return slices.Contains(validPaymentIntentStatuses, s)
}

// IsOpen reports whether a callback for the intent is still expected.
func (s PaymentIntentStatus) IsOpen() bool {
	return s == PaymentIntentStatusCreated
}

// ParsePaymentIntentStatus converts raw input into a PaymentIntentStatus.
func ParsePaymentIntentStatus(value string) (PaymentIntentStatus, error) {
	return parse(validPaymentIntentStatuses, value, "payment intent status")
}
