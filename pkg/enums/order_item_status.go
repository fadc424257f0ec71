package enums

import "fmt"

// OrderItemStatus tracks a single line independently of its order.
type OrderItemStatus string

const (
	OrderItemStatusPending   OrderItemStatus = "pending"
	OrderItemStatusShipped   OrderItemStatus = "shipped"
	OrderItemStatusDelivered OrderItemStatus = "delivered"
	OrderItemStatusCancelled OrderItemStatus = "cancelled"
	OrderItemStatusRefunded  OrderItemStatus = "refunded"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPending,
	OrderItemStatusShipped,
	OrderItemStatusDelivered,
	OrderItemStatusCancelled,
	OrderItemStatusRefunded,
}

// String implements fmt.Stringer.
func (v OrderItemStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known OrderItemStatus.
func (v OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseOrderItemStatus converts raw input into a OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}
