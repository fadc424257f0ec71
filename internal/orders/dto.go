package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/internal/discounts"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/money"
)

// ItemInput is one requested variant.
type ItemInput struct {
	VariantID uuid.UUID
	Quantity  int
}

// AddressInput is a shipping or billing address.
type AddressInput struct {
	Type       enums.AddressType
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// CreateOrderInput carries everything CreateOrder needs. Tax and shipping are
// quoted by the caller in the order currency.
type CreateOrderInput struct {
	CustomerID string
	Currency   enums.Currency
	Items      []ItemInput
	Addresses  []AddressInput
	Tax        money.Money
	Shipping   money.Money
	Notes      *string
}

// CouponResult is the order after a coupon decision replaced its discount.
type CouponResult struct {
	Order    *models.Order
	Decision discounts.Decision
}

// ConfirmResult is a confirmed order with its ledger rows.
type ConfirmResult struct {
	Order       *models.Order
	Commissions []models.Commission
}

// StatusChangeInput moves an order along its lifecycle.
type StatusChangeInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Actor   string
	Note    *string
}

// ItemStatusChangeInput moves one item along its lifecycle.
type ItemStatusChangeInput struct {
	OrderID uuid.UUID
	ItemID  uuid.UUID
	Target  enums.OrderItemStatus
	Actor   string
}

// RefundApplication marks refunded items on an order. WholeOrder refunds the
// order itself; otherwise the order follows once no active item remains.
type RefundApplication struct {
	OrderID    uuid.UUID
	RefundID   uuid.UUID
	ItemIDs    []uuid.UUID
	WholeOrder bool
	Actor      string
}

// OrderSummary is one row of a customer's order list.
type OrderSummary struct {
	ID          uuid.UUID         `json:"id"`
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	Currency    enums.Currency    `json:"currency"`
	TotalMinor  int64             `json:"total_minor"`
	ItemCount   int               `json:"item_count"`
	CreatedAt   time.Time         `json:"created_at"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
