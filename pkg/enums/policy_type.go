package enums

import "fmt"

// PolicyType classifies automatic shop discount policies.
type PolicyType string

const (
	PolicyTypeBulkPurchase  PolicyType = "bulk_purchase"
	PolicyTypeCategoryWide  PolicyType = "category_wide"
	PolicyTypeCustomerGroup PolicyType = "customer_group"
)

var validPolicyTypes = []PolicyType{
	PolicyTypeBulkPurchase,
	PolicyTypeCategoryWide,
	PolicyTypeCustomerGroup,
}

// String implements fmt.Stringer.
func (v PolicyType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PolicyType.
func (v PolicyType) IsValid() bool {
	for _, candidate := range validPolicyTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePolicyType converts raw input into a PolicyType.
func ParsePolicyType(value string) (PolicyType, error) {
	for _, candidate := range validPolicyTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid policy type %q", value)
}
