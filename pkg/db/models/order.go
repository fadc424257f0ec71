package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/money"
)

// DiscountSource records a coupon or policy that contributed to an order discount.
type DiscountSource struct {
	Kind   string    `json:"kind"`
	ID     uuid.UUID `json:"id"`
	Code   string    `json:"code,omitempty"`
	Amount int64     `json:"amount_minor"`
}

// Order is the aggregate root for a customer checkout.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber     string            `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerID      string            `gorm:"column:customer_id;not null"`
	Status          enums.OrderStatus `gorm:"column:status;not null"`
	Currency        enums.Currency    `gorm:"column:currency;not null"`
	SubtotalMinor   int64             `gorm:"column:subtotal_minor;not null"`
	TaxMinor        int64             `gorm:"column:tax_minor;not null"`
	ShippingMinor   int64             `gorm:"column:shipping_minor;not null"`
	DiscountMinor   int64             `gorm:"column:discount_minor;not null"`
	TotalMinor      int64             `gorm:"column:total_minor;not null"`
	CouponID        *uuid.UUID        `gorm:"column:coupon_id;type:uuid"`
	DiscountSources []DiscountSource  `gorm:"column:discount_sources;type:jsonb;serializer:json"`
	Notes           *string           `gorm:"column:notes"`
	ConfirmedAt     *time.Time        `gorm:"column:confirmed_at"`
	ShippedAt       *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt     *time.Time        `gorm:"column:delivered_at"`
	CancelledAt     *time.Time        `gorm:"column:cancelled_at"`
	RefundedAt      *time.Time        `gorm:"column:refunded_at"`
	FailedAt        *time.Time        `gorm:"column:failed_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Items     []OrderItem    `gorm:"foreignKey:OrderID;references:ID"`
	Addresses []OrderAddress `gorm:"foreignKey:OrderID;references:ID"`
}

func (o *Order) Subtotal() money.Money { return money.New(o.SubtotalMinor, o.Currency) }
func (o *Order) Tax() money.Money      { return money.New(o.TaxMinor, o.Currency) }
func (o *Order) Shipping() money.Money { return money.New(o.ShippingMinor, o.Currency) }
func (o *Order) Discount() money.Money { return money.New(o.DiscountMinor, o.Currency) }
func (o *Order) Total() money.Money    { return money.New(o.TotalMinor, o.Currency) }

// OrderItem is one purchased variant within an order.
type OrderItem struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	ProductID             uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	VariantID             uuid.UUID             `gorm:"column:variant_id;type:uuid;not null"`
	ShopID                uuid.UUID             `gorm:"column:shop_id;type:uuid;not null"`
	CategoryID            uuid.UUID             `gorm:"column:category_id;type:uuid;not null"`
	Position              int                   `gorm:"column:position;not null"`
	Quantity              int                   `gorm:"column:quantity;not null"`
	UnitPriceMinor        int64                 `gorm:"column:unit_price_minor;not null"`
	TotalPriceMinor       int64                 `gorm:"column:total_price_minor;not null"`
	CommissionRate        decimal.Decimal       `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CommissionAmountMinor int64                 `gorm:"column:commission_amount_minor;not null"`
	Status                enums.OrderItemStatus `gorm:"column:status;not null"`
	ShippedAt             *time.Time            `gorm:"column:shipped_at"`
	DeliveredAt           *time.Time            `gorm:"column:delivered_at"`
	RefundedAt            *time.Time            `gorm:"column:refunded_at"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderAddress is unique per (order, address type).
type OrderAddress struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	AddressType enums.AddressType `gorm:"column:address_type;not null"`
	Recipient   string            `gorm:"column:recipient;not null"`
	Line1       string            `gorm:"column:line1;not null"`
	Line2       *string           `gorm:"column:line2"`
	City        string            `gorm:"column:city;not null"`
	State       *string           `gorm:"column:state"`
	PostalCode  string            `gorm:"column:postal_code;not null"`
	Country     string            `gorm:"column:country;not null"`
	Phone       *string           `gorm:"column:phone"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// OrderStatusHistory is an append-only audit of order status changes.
type OrderStatusHistory struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;not null"`
	ChangedBy  string             `gorm:"column:changed_by;not null"`
	Note       *string            `gorm:"column:note"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
