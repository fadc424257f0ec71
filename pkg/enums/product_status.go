package enums

import "fmt"

type ProductStatus string

const (
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusArchived ProductStatus = "archived"
)

var validProductStatuses = []ProductStatus{
	ProductStatusDraft,
	ProductStatusActive,
	ProductStatusInactive,
	ProductStatusArchived,
}

// String implements fmt.Stringer.
func (v ProductStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ProductStatus.
func (v ProductStatus) IsValid() bool {
	for _, candidate := range validProductStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseProductStatus converts raw input into a ProductStatus.
func ParseProductStatus(value string) (ProductStatus, error) {
	for _, candidate := range validProductStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product status %q", value)
}
