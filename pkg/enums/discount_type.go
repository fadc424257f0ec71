package enums

import "fmt"

// DiscountType selects how a coupon or policy computes its amount.
type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "percentage"
	DiscountTypeFixedAmount  DiscountType = "fixed_amount"
	DiscountTypeFreeShipping DiscountType = "free_shipping"
)

var validDiscountTypes = []DiscountType{
	DiscountTypePercentage,
	DiscountTypeFixedAmount,
	DiscountTypeFreeShipping,
}

// String implements fmt.Stringer.
func (v DiscountType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known DiscountType.
func (v DiscountType) IsValid() bool {
	for _, candidate := range validDiscountTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseDiscountType converts raw input into a DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	for _, candidate := range validDiscountTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount type %q", value)
}
