package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/enums"
)

// Coupon is a code a customer can apply to a pending order. A nil ShopID marks a
// platform-wide coupon.
type Coupon struct {
	ID                    uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID                *uuid.UUID         `gorm:"column:shop_id;type:uuid"`
	Code                  string             `gorm:"column:coupon_code;not null;uniqueIndex"`
	Name                  string             `gorm:"column:name;not null"`
	DiscountType          enums.DiscountType `gorm:"column:discount_type;not null"`
	DiscountValue         decimal.Decimal    `gorm:"column:discount_value;type:numeric(12,2);not null"`
	MinimumOrderAmount    decimal.Decimal    `gorm:"column:minimum_order_amount;type:numeric(12,2);not null"`
	MaximumDiscountAmount *decimal.Decimal   `gorm:"column:maximum_discount_amount;type:numeric(12,2)"`
	IsActive              bool               `gorm:"column:is_active;not null"`
	StartsAt              time.Time          `gorm:"column:starts_at;not null"`
	ExpiresAt             *time.Time         `gorm:"column:expires_at"`
	UsageLimit            *int               `gorm:"column:usage_limit"`
	UsageLimitPerCustomer *int               `gorm:"column:usage_limit_per_customer"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// CouponUsage is written once per (coupon, order) at confirmation.
type CouponUsage struct {
	ID                  uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CouponID            uuid.UUID      `gorm:"column:coupon_id;type:uuid;not null"`
	CustomerID          string         `gorm:"column:customer_id;not null"`
	OrderID             uuid.UUID      `gorm:"column:order_id;type:uuid;not null"`
	DiscountAmountMinor int64          `gorm:"column:discount_amount_minor;not null"`
	Currency            enums.Currency `gorm:"column:currency;not null"`
	UsedAt              time.Time      `gorm:"column:used_at;not null"`
}

// PolicyConditions must all hold for a policy to match. Zero values are ignored.
type PolicyConditions struct {
	MinQuantity    int         `json:"min_quantity,omitempty"`
	MinSubtotal    string      `json:"min_subtotal,omitempty"`
	CategoryIDs    []uuid.UUID `json:"category_ids,omitempty"`
	CustomerGroups []string    `json:"customer_groups,omitempty"`
}

// PolicyDiscount describes what a matching policy grants.
type PolicyDiscount struct {
	Type        enums.DiscountType `json:"type"`
	Value       decimal.Decimal    `json:"value"`
	MaxDiscount *decimal.Decimal   `json:"max_discount,omitempty"`
}

// DiscountPolicy is an automatic shop discount evaluated by priority.
type DiscountPolicy struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID     uuid.UUID        `gorm:"column:shop_id;type:uuid;not null"`
	Name       string           `gorm:"column:name;not null"`
	PolicyType enums.PolicyType `gorm:"column:policy_type;not null"`
	Conditions PolicyConditions `gorm:"column:conditions;type:jsonb;serializer:json;not null"`
	Discount   PolicyDiscount   `gorm:"column:discount;type:jsonb;serializer:json;not null"`
	Priority   int              `gorm:"column:priority;not null"`
	Stackable  bool             `gorm:"column:stackable;not null"`
	IsActive   bool             `gorm:"column:is_active;not null"`
	StartsAt   *time.Time       `gorm:"column:starts_at"`
	ExpiresAt  *time.Time       `gorm:"column:expires_at"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// DiscountUsageDaily aggregates redemptions per coupon and day.
type DiscountUsageDaily struct {
	CouponID            uuid.UUID      `gorm:"column:coupon_id;type:uuid;primaryKey"`
	UsageDate           string         `gorm:"column:usage_date;type:date;primaryKey"`
	Currency            enums.Currency `gorm:"column:currency;not null"`
	Redemptions         int            `gorm:"column:redemptions;not null"`
	DiscountAmountMinor int64          `gorm:"column:discount_amount_minor;not null"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (DiscountUsageDaily) TableName() string { return "discount_usage_daily" }
