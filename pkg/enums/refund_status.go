package enums

import "fmt"

// RefundStatus tracks an order refund request.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusRejected  RefundStatus = "rejected"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusApproved,
	RefundStatusProcessed,
	RefundStatusRejected,
}

// String implements fmt.Stringer.
func (v RefundStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known RefundStatus.
func (v RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
