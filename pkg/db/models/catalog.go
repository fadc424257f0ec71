package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/enums"
)

// Shop is a vendor selling through the marketplace.
type Shop struct {
	ID                 uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID            string           `gorm:"column:owner_id;not null"`
	Name               string           `gorm:"column:name;not null"`
	Status             enums.ShopStatus `gorm:"column:status;not null"`
	CommissionRate     decimal.Decimal  `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	MinimumPayoutMinor int64            `gorm:"column:minimum_payout_minor;not null"`
	PayoutCurrency     enums.Currency   `gorm:"column:payout_currency;not null"`
	CreatedAt          time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// ShopCategory groups shops (e.g. "handmade") and may override the commission rate.
type ShopCategory struct {
	ID                     uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                   string           `gorm:"column:name;not null"`
	CommissionRateOverride *decimal.Decimal `gorm:"column:commission_rate_override;type:numeric(5,2)"`
	CreatedAt              time.Time        `gorm:"column:created_at;autoCreateTime"`
}

// ShopCategoryAssignment links a shop to a shop category.
type ShopCategoryAssignment struct {
	ShopID         uuid.UUID `gorm:"column:shop_id;type:uuid;primaryKey"`
	ShopCategoryID uuid.UUID `gorm:"column:shop_category_id;type:uuid;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Category is a product category tree node.
type Category struct {
	ID                     uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ParentID               *uuid.UUID       `gorm:"column:parent_id;type:uuid"`
	Name                   string           `gorm:"column:name;not null"`
	CommissionRateOverride *decimal.Decimal `gorm:"column:commission_rate_override;type:numeric(5,2)"`
	CreatedAt              time.Time        `gorm:"column:created_at;autoCreateTime"`
}

type Product struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID     uuid.UUID           `gorm:"column:shop_id;type:uuid;not null"`
	CategoryID uuid.UUID           `gorm:"column:category_id;type:uuid;not null"`
	Name       string              `gorm:"column:name;not null"`
	Status     enums.ProductStatus `gorm:"column:status;not null"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// ProductVariant is the purchasable unit referenced by order items.
type ProductVariant struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID  uuid.UUID      `gorm:"column:product_id;type:uuid;not null"`
	SKU        string         `gorm:"column:sku;not null"`
	PriceMinor int64          `gorm:"column:price_minor;not null"`
	Currency   enums.Currency `gorm:"column:currency;not null"`
	IsActive   bool           `gorm:"column:is_active;not null"`
	Product    *Product       `gorm:"foreignKey:ProductID;references:ID"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
