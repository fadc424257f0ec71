package enums

import "fmt"

// AdjustmentStatus tracks whether a negative commission adjustment has been netted.
type AdjustmentStatus string

const (
	AdjustmentStatusPendingOffset AdjustmentStatus = "pending_offset"
	AdjustmentStatusOffset        AdjustmentStatus = "offset"
)

var validAdjustmentStatuses = []AdjustmentStatus{
	AdjustmentStatusPendingOffset,
	AdjustmentStatusOffset,
}

// String implements fmt.Stringer.
func (v AdjustmentStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known AdjustmentStatus.
func (v AdjustmentStatus) IsValid() bool {
	for _, candidate := range validAdjustmentStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseAdjustmentStatus converts raw input into a AdjustmentStatus.
func ParseAdjustmentStatus(value string) (AdjustmentStatus, error) {
	for _, candidate := range validAdjustmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid adjustment status %q", value)
}
