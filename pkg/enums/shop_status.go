package enums

import "fmt"

type ShopStatus string

const (
	ShopStatusPending   ShopStatus = "pending"
	ShopStatusApproved  ShopStatus = "approved"
	ShopStatusSuspended ShopStatus = "suspended"
	ShopStatusClosed    ShopStatus = "closed"
)

var validShopStatuses = []ShopStatus{
	ShopStatusPending,
	ShopStatusApproved,
	ShopStatusSuspended,
	ShopStatusClosed,
}

// String implements fmt.Stringer.
func (v ShopStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ShopStatus.
func (v ShopStatus) IsValid() bool {
	for _, candidate := range validShopStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseShopStatus converts raw input into a ShopStatus.
func ParseShopStatus(value string) (ShopStatus, error) {
	for _, candidate := range validShopStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shop status %q", value)
}
