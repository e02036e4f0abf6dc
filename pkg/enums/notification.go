package enums

import "slices"

// NotificationType maps to the notification_type column.
type NotificationType string

const (
	NotificationTypeQuotationSent   NotificationType = "quotation_sent"
	NotificationTypePaymentReceived NotificationType = "payment_received"
	NotificationTypeOrderCompleted  NotificationType = "order_completed"
	NotificationTypeOrderCancelled  NotificationType = "order_cancelled"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeQuotationSent,
	NotificationTypePaymentReceived,
	NotificationTypeOrderCompleted,
	NotificationTypeOrderCancelled,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	return slices.Contains(validNotificationTypes, n)
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	return parse(validNotificationTypes, value, "notification type")
}
