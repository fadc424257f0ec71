package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateRefund       OutboxAggregateType = "refund"
	AggregateCommission   OutboxAggregateType = "commission"
	AggregatePayout       OutboxAggregateType = "payout"
	AggregateNotification OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateRefund,
	AggregateCommission,
	AggregatePayout,
	AggregateNotification,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event written to the outbox.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderDiscountApplied  OutboxEventType = "order_discount_applied"
	EventOrderConfirmed        OutboxEventType = "order_confirmed"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventCouponRedeemed        OutboxEventType = "coupon_redeemed"
	EventCommissionsCreated    OutboxEventType = "commissions_created"
	EventCommissionCleared     OutboxEventType = "commission_cleared"
	EventCommissionDisputed    OutboxEventType = "commission_disputed"
	EventPayoutCreated         OutboxEventType = "payout_created"
	EventPayoutCompleted       OutboxEventType = "payout_completed"
	EventPayoutFailed          OutboxEventType = "payout_failed"
	EventRefundRequested       OutboxEventType = "refund_requested"
	EventRefundApproved        OutboxEventType = "refund_approved"
	EventRefundRejected        OutboxEventType = "refund_rejected"
	EventRefundProcessed       OutboxEventType = "refund_processed"
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderDiscountApplied,
	EventOrderConfirmed,
	EventOrderStatusChanged,
	EventCouponRedeemed,
	EventCommissionsCreated,
	EventCommissionCleared,
	EventCommissionDisputed,
	EventPayoutCreated,
	EventPayoutCompleted,
	EventPayoutFailed,
	EventRefundRequested,
	EventRefundApproved,
	EventRefundRejected,
	EventRefundProcessed,
	EventNotificationRequested,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
