package enums

import "fmt"

// FeeType selects how the platform fee is computed per item.
type FeeType string

const (
	FeeTypeFlat       FeeType = "flat"
	FeeTypePercentage FeeType = "percentage"
)

var validFeeTypes = []FeeType{
	FeeTypeFlat,
	FeeTypePercentage,
}

// String implements fmt.Stringer.
func (v FeeType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known FeeType.
func (v FeeType) IsValid() bool {
	for _, candidate := range validFeeTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseFeeType converts raw input into a FeeType.
func ParseFeeType(value string) (FeeType, error) {
	for _, candidate := range validFeeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fee type %q", value)
}
