package enums

import "fmt"

// CommissionStatus is the settlement state of a commission.
type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusCleared  CommissionStatus = "cleared"
	CommissionStatusPaidOut  CommissionStatus = "paid_out"
	CommissionStatusDisputed CommissionStatus = "disputed"
	CommissionStatusRefunded CommissionStatus = "refunded"
	CommissionStatusVoided   CommissionStatus = "voided"
)

var validCommissionStatuses = []CommissionStatus{
	CommissionStatusPending,
	CommissionStatusCleared,
	CommissionStatusPaidOut,
	CommissionStatusDisputed,
	CommissionStatusRefunded,
	CommissionStatusVoided,
}

// String implements fmt.Stringer.
func (v CommissionStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CommissionStatus.
func (v CommissionStatus) IsValid() bool {
	for _, candidate := range validCommissionStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCommissionStatus converts raw input into a CommissionStatus.
func ParseCommissionStatus(value string) (CommissionStatus, error) {
	for _, candidate := range validCommissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission status %q", value)
}

// IsReversible reports whether a refund can move the commission straight to refunded.
func (v CommissionStatus) IsReversible() bool {
	switch v {
	case CommissionStatusPending, CommissionStatusCleared, CommissionStatusDisputed:
		return true
	}
	return false
}
