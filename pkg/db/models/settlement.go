package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/money"
)

// Commission is the settlement record for one order item. Only the settlement
// ledger writes it after creation.
type Commission struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	OrderItemID      uuid.UUID              `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex"`
	ShopID           uuid.UUID              `gorm:"column:shop_id;type:uuid;not null"`
	Currency         enums.Currency         `gorm:"column:currency;not null"`
	CommissionRate   decimal.Decimal        `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	GrossMinor       int64                  `gorm:"column:gross_minor;not null"`
	CommissionMinor  int64                  `gorm:"column:commission_minor;not null"`
	PlatformFeeMinor int64                  `gorm:"column:platform_fee_minor;not null"`
	NetMinor         int64                  `gorm:"column:net_minor;not null"`
	Status           enums.CommissionStatus `gorm:"column:status;not null"`
	PayoutID         *uuid.UUID             `gorm:"column:payout_id;type:uuid"`
	DisputeReason    *string                `gorm:"column:dispute_reason"`
	CalculatedAt     time.Time              `gorm:"column:calculated_at;not null"`
	ClearedAt        *time.Time             `gorm:"column:cleared_at"`
	PaidOutAt        *time.Time             `gorm:"column:paid_out_at"`
	DisputedAt       *time.Time             `gorm:"column:disputed_at"`
	RefundedAt       *time.Time             `gorm:"column:refunded_at"`
	VoidedAt         *time.Time             `gorm:"column:voided_at"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Commission) Gross() money.Money { return money.New(c.GrossMinor, c.Currency) }
func (c *Commission) Net() money.Money   { return money.New(c.NetMinor, c.Currency) }

// CommissionAdjustment is a negative entry offsetting an already paid-out
// commission against a later payout.
type CommissionAdjustment struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CommissionID uuid.UUID              `gorm:"column:commission_id;type:uuid;not null"`
	RefundID     uuid.UUID              `gorm:"column:refund_id;type:uuid;not null"`
	ShopID       uuid.UUID              `gorm:"column:shop_id;type:uuid;not null"`
	Currency     enums.Currency         `gorm:"column:currency;not null"`
	AmountMinor  int64                  `gorm:"column:amount_minor;not null"`
	Reason       string                 `gorm:"column:reason;not null"`
	Status       enums.AdjustmentStatus `gorm:"column:status;not null"`
	PayoutID     *uuid.UUID             `gorm:"column:payout_id;type:uuid"`
	CreatedAt    time.Time              `gorm:"column:created_at;not null"`
	OffsetAt     *time.Time             `gorm:"column:offset_at"`
}

// Payout batches cleared commissions of one shop into a disbursement.
type Payout struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID          uuid.UUID          `gorm:"column:shop_id;type:uuid;not null"`
	Currency        enums.Currency     `gorm:"column:currency;not null"`
	PayoutMinor     int64              `gorm:"column:payout_amount_minor;not null"`
	GrossMinor      int64              `gorm:"column:gross_amount_minor;not null"`
	AdjustmentMinor int64              `gorm:"column:adjustment_amount_minor;not null"`
	Status          enums.PayoutStatus `gorm:"column:status;not null"`
	PayoutMethod    string             `gorm:"column:payout_method;not null"`
	ReferenceNumber *string            `gorm:"column:reference_number"`
	CutoffAt        time.Time          `gorm:"column:cutoff_at;not null"`
	RequestedAt     time.Time          `gorm:"column:requested_at;not null"`
	ProcessedAt     *time.Time         `gorm:"column:processed_at"`
	FailedAt        *time.Time         `gorm:"column:failed_at"`
	FailureReason   *string            `gorm:"column:failure_reason"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`

	Transactions []PayoutTransaction `gorm:"foreignKey:PayoutID;references:ID"`
}

func (p *Payout) Amount() money.Money { return money.New(p.PayoutMinor, p.Currency) }

// PayoutTransaction fixes the amount a commission contributed to a payout.
type PayoutTransaction struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PayoutID     uuid.UUID `gorm:"column:payout_id;type:uuid;not null"`
	CommissionID uuid.UUID `gorm:"column:commission_id;type:uuid;not null"`
	AmountMinor  int64     `gorm:"column:amount_minor;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// OrderRefund is a refund request against an order or one of its items.
type OrderRefund struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	OrderItemID       *uuid.UUID         `gorm:"column:order_item_id;type:uuid"`
	RefundAmountMinor int64              `gorm:"column:refund_amount_minor;not null"`
	Currency          enums.Currency     `gorm:"column:currency;not null"`
	Reason            string             `gorm:"column:reason;not null"`
	Status            enums.RefundStatus `gorm:"column:status;not null"`
	RequestedBy       string             `gorm:"column:requested_by;not null"`
	ProcessedBy       *string            `gorm:"column:processed_by"`
	ApprovedAt        *time.Time         `gorm:"column:approved_at"`
	ProcessedAt       *time.Time         `gorm:"column:processed_at"`
	Notes             *string            `gorm:"column:notes"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *OrderRefund) Amount() money.Money { return money.New(r.RefundAmountMinor, r.Currency) }
