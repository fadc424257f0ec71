package enums

import "fmt"

// NotificationType classifies notification requests handed to the delivery gateway.
type NotificationType string

const (
	NotificationTypeOrderConfirmed  NotificationType = "order_confirmed"
	NotificationTypeOrderStatus     NotificationType = "order_status"
	NotificationTypeRefundApproved  NotificationType = "refund_approved"
	NotificationTypeRefundRejected  NotificationType = "refund_rejected"
	NotificationTypePayoutCompleted NotificationType = "payout_completed"
	NotificationTypePayoutFailed    NotificationType = "payout_failed"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderConfirmed,
	NotificationTypeOrderStatus,
	NotificationTypeRefundApproved,
	NotificationTypeRefundRejected,
	NotificationTypePayoutCompleted,
	NotificationTypePayoutFailed,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationPriority orders delivery urgency.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityNormal NotificationPriority = "normal"
	NotificationPriorityHigh   NotificationPriority = "high"
)
