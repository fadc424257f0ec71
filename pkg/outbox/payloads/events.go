package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/pkg/enums"
)

// OrderCreatedEvent is emitted once a pending order is persisted.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID      `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	CustomerID  string         `json:"customer_id"`
	Currency    enums.Currency `json:"currency"`
	TotalMinor  int64          `json:"total_minor"`
	ItemCount   int            `json:"item_count"`
}

// OrderDiscountAppliedEvent reports a coupon decision replacing the order discount.
type OrderDiscountAppliedEvent struct {
	OrderID       uuid.UUID  `json:"order_id"`
	CouponID      *uuid.UUID `json:"coupon_id,omitempty"`
	DiscountMinor int64      `json:"discount_minor"`
	TotalMinor    int64      `json:"total_minor"`
}

// OrderConfirmedEvent freezes the financial snapshot of an order.
type OrderConfirmedEvent struct {
	OrderID       uuid.UUID      `json:"order_id"`
	OrderNumber   string         `json:"order_number"`
	CustomerID    string         `json:"customer_id"`
	Currency      enums.Currency `json:"currency"`
	TotalMinor    int64          `json:"total_minor"`
	CommissionIDs []uuid.UUID    `json:"commission_ids"`
	ConfirmedAt   time.Time      `json:"confirmed_at"`
}

// OrderStatusChangedEvent mirrors a row of order_status_history.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	From      enums.OrderStatus `json:"from"`
	To        enums.OrderStatus `json:"to"`
	ChangedBy string            `json:"changed_by"`
	Note      string            `json:"note,omitempty"`
}

// CouponRedeemedEvent is emitted when a CouponUsage row is written.
type CouponRedeemedEvent struct {
	CouponID      uuid.UUID      `json:"coupon_id"`
	OrderID       uuid.UUID      `json:"order_id"`
	CustomerID    string         `json:"customer_id"`
	Currency      enums.Currency `json:"currency"`
	DiscountMinor int64          `json:"discount_minor"`
}

// CommissionsCreatedEvent lists the ledger rows written at confirmation.
type CommissionsCreatedEvent struct {
	OrderID       uuid.UUID   `json:"order_id"`
	CommissionIDs []uuid.UUID `json:"commission_ids"`
	ShopIDs       []uuid.UUID `json:"shop_ids"`
}

// CommissionStatusEvent covers clearing and disputes.
type CommissionStatusEvent struct {
	CommissionID uuid.UUID              `json:"commission_id"`
	ShopID       uuid.UUID              `json:"shop_id"`
	Status       enums.CommissionStatus `json:"status"`
	Reason       string                 `json:"reason,omitempty"`
}

// PayoutEvent covers creation, completion and failure of a payout.
type PayoutEvent struct {
	PayoutID        uuid.UUID          `json:"payout_id"`
	ShopID          uuid.UUID          `json:"shop_id"`
	Currency        enums.Currency     `json:"currency"`
	AmountMinor     int64              `json:"amount_minor"`
	Status          enums.PayoutStatus `json:"status"`
	CommissionCount int                `json:"commission_count"`
	Reason          string             `json:"reason,omitempty"`
}

// RefundEvent covers every refund status change.
type RefundEvent struct {
	RefundID    uuid.UUID          `json:"refund_id"`
	OrderID     uuid.UUID          `json:"order_id"`
	OrderItemID *uuid.UUID         `json:"order_item_id,omitempty"`
	Currency    enums.Currency     `json:"currency"`
	AmountMinor int64              `json:"amount_minor"`
	Status      enums.RefundStatus `json:"status"`
}

// NotificationRequestedEvent asks the delivery gateway to alert a recipient.
type NotificationRequestedEvent struct {
	NotificationID uuid.UUID                  `json:"notification_id"`
	Type           enums.NotificationType     `json:"type"`
	Priority       enums.NotificationPriority `json:"priority"`
	RecipientID    string                     `json:"recipient_id"`
	OrderID        *uuid.UUID                 `json:"order_id,omitempty"`
	RefundID       *uuid.UUID                 `json:"refund_id,omitempty"`
	PayoutID       *uuid.UUID                 `json:"payout_id,omitempty"`
	ShopID         *uuid.UUID                 `json:"shop_id,omitempty"`
	Message        string                     `json:"message"`
}
