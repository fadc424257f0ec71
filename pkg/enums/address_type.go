package enums

import "fmt"

// AddressType distinguishes the addresses attached to an order.
type AddressType string

const (
	AddressTypeShipping AddressType = "shipping"
	AddressTypeBilling  AddressType = "billing"
)

var validAddressTypes = []AddressType{
	AddressTypeShipping,
	AddressTypeBilling,
}

// String implements fmt.Stringer.
func (v AddressType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known AddressType.
func (v AddressType) IsValid() bool {
	for _, candidate := range validAddressTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseAddressType converts raw input into a AddressType.
func ParseAddressType(value string) (AddressType, error) {
	for _, candidate := range validAddressTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid address type %q", value)
}
