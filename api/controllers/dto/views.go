// Package dto holds the JSON views shared by the HTTP controllers. Amounts are
// rendered both in minor units and as fixed-point major-unit strings.
package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/internal/settlement"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/money"
)

type Money struct {
	Minor    int64          `json:"minor"`
	Amount   string         `json:"amount"`
	Currency enums.Currency `json:"currency"`
}

func NewMoney(m money.Money) Money {
	return Money{Minor: m.Minor(), Amount: m.StringFixed(), Currency: m.Currency()}
}

type OrderItem struct {
	ID               uuid.UUID             `json:"id"`
	ProductID        uuid.UUID             `json:"product_id"`
	VariantID        uuid.UUID             `json:"variant_id"`
	ShopID           uuid.UUID             `json:"shop_id"`
	Quantity         int                   `json:"quantity"`
	UnitPrice        Money                 `json:"unit_price"`
	TotalPrice       Money                 `json:"total_price"`
	CommissionRate   string                `json:"commission_rate"`
	CommissionAmount Money                 `json:"commission_amount"`
	Status           enums.OrderItemStatus `json:"status"`
	ShippedAt        *time.Time            `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time            `json:"delivered_at,omitempty"`
	RefundedAt       *time.Time            `json:"refunded_at,omitempty"`
}

type Address struct {
	Type       enums.AddressType `json:"type"`
	Recipient  string            `json:"recipient"`
	Line1      string            `json:"line1"`
	Line2      *string           `json:"line2,omitempty"`
	City       string            `json:"city"`
	State      *string           `json:"state,omitempty"`
	PostalCode string            `json:"postal_code"`
	Country    string            `json:"country"`
	Phone      *string           `json:"phone,omitempty"`
}

type Order struct {
	ID              uuid.UUID               `json:"id"`
	OrderNumber     string                  `json:"order_number"`
	CustomerID      string                  `json:"customer_id"`
	Status          enums.OrderStatus       `json:"status"`
	Subtotal        Money                   `json:"subtotal"`
	Tax             Money                   `json:"tax"`
	Shipping        Money                   `json:"shipping"`
	Discount        Money                   `json:"discount"`
	Total           Money                   `json:"total"`
	CouponID        *uuid.UUID              `json:"coupon_id,omitempty"`
	DiscountSources []models.DiscountSource `json:"discount_sources,omitempty"`
	Notes           *string                 `json:"notes,omitempty"`
	Items           []OrderItem             `json:"items"`
	Addresses       []Address               `json:"addresses,omitempty"`
	ConfirmedAt     *time.Time              `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time              `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time              `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time              `json:"cancelled_at,omitempty"`
	RefundedAt      *time.Time              `json:"refunded_at,omitempty"`
	FailedAt        *time.Time              `json:"failed_at,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
}

func NewOrder(o *models.Order) *Order {
	if o == nil {
		return nil
	}
	out := &Order{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		Subtotal:        NewMoney(o.Subtotal()),
		Tax:             NewMoney(o.Tax()),
		Shipping:        NewMoney(o.Shipping()),
		Discount:        NewMoney(o.Discount()),
		Total:           NewMoney(o.Total()),
		CouponID:        o.CouponID,
		DiscountSources: o.DiscountSources,
		Notes:           o.Notes,
		Items:           make([]OrderItem, 0, len(o.Items)),
		ConfirmedAt:     o.ConfirmedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		RefundedAt:      o.RefundedAt,
		FailedAt:        o.FailedAt,
		CreatedAt:       o.CreatedAt,
	}
	for _, item := range o.Items {
		out.Items = append(out.Items, OrderItem{
			ID:               item.ID,
			ProductID:        item.ProductID,
			VariantID:        item.VariantID,
			ShopID:           item.ShopID,
			Quantity:         item.Quantity,
			UnitPrice:        NewMoney(money.New(item.UnitPriceMinor, o.Currency)),
			TotalPrice:       NewMoney(money.New(item.TotalPriceMinor, o.Currency)),
			CommissionRate:   item.CommissionRate.StringFixed(2),
			CommissionAmount: NewMoney(money.New(item.CommissionAmountMinor, o.Currency)),
			Status:           item.Status,
			ShippedAt:        item.ShippedAt,
			DeliveredAt:      item.DeliveredAt,
			RefundedAt:       item.RefundedAt,
		})
	}
	for _, addr := range o.Addresses {
		out.Addresses = append(out.Addresses, Address{
			Type:       addr.AddressType,
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		})
	}
	return out
}

type Commission struct {
	ID          uuid.UUID              `json:"id"`
	OrderItemID uuid.UUID              `json:"order_item_id"`
	ShopID      uuid.UUID              `json:"shop_id"`
	Rate        string                 `json:"rate"`
	Gross       Money                  `json:"gross"`
	Commission  Money                  `json:"commission"`
	PlatformFee Money                  `json:"platform_fee"`
	Net         Money                  `json:"net"`
	Status      enums.CommissionStatus `json:"status"`
	PayoutID    *uuid.UUID             `json:"payout_id,omitempty"`
}

func NewCommissions(rows []models.Commission) []Commission {
	out := make([]Commission, 0, len(rows))
	for _, c := range rows {
		out = append(out, Commission{
			ID:          c.ID,
			OrderItemID: c.OrderItemID,
			ShopID:      c.ShopID,
			Rate:        c.CommissionRate.StringFixed(2),
			Gross:       NewMoney(c.Gross()),
			Commission:  NewMoney(money.New(c.CommissionMinor, c.Currency)),
			PlatformFee: NewMoney(money.New(c.PlatformFeeMinor, c.Currency)),
			Net:         NewMoney(c.Net()),
			Status:      c.Status,
			PayoutID:    c.PayoutID,
		})
	}
	return out
}

type Refund struct {
	ID          uuid.UUID          `json:"id"`
	OrderID     uuid.UUID          `json:"order_id"`
	OrderItemID *uuid.UUID         `json:"order_item_id,omitempty"`
	Amount      Money              `json:"amount"`
	Reason      string             `json:"reason"`
	Status      enums.RefundStatus `json:"status"`
	RequestedBy string             `json:"requested_by"`
	ProcessedBy *string            `json:"processed_by,omitempty"`
	Notes       *string            `json:"notes,omitempty"`
	ApprovedAt  *time.Time         `json:"approved_at,omitempty"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

func NewRefund(r *models.OrderRefund) *Refund {
	if r == nil {
		return nil
	}
	return &Refund{
		ID:          r.ID,
		OrderID:     r.OrderID,
		OrderItemID: r.OrderItemID,
		Amount:      NewMoney(r.Amount()),
		Reason:      r.Reason,
		Status:      r.Status,
		RequestedBy: r.RequestedBy,
		ProcessedBy: r.ProcessedBy,
		Notes:       r.Notes,
		ApprovedAt:  r.ApprovedAt,
		ProcessedAt: r.ProcessedAt,
		CreatedAt:   r.CreatedAt,
	}
}

type Reversal struct {
	ItemID       uuid.UUID               `json:"item_id"`
	CommissionID *uuid.UUID              `json:"commission_id,omitempty"`
	Kind         settlement.ReversalKind `json:"kind"`
	Adjustment   *Adjustment             `json:"adjustment,omitempty"`
}

type Adjustment struct {
	ID     uuid.UUID              `json:"id"`
	Amount Money                  `json:"amount"`
	Status enums.AdjustmentStatus `json:"status"`
}

func NewReversals(rows []settlement.Reversal) []Reversal {
	out := make([]Reversal, 0, len(rows))
	for _, r := range rows {
		view := Reversal{ItemID: r.ItemID, CommissionID: r.CommissionID, Kind: r.Kind}
		if adj := r.Adjustment; adj != nil {
			view.Adjustment = &Adjustment{
				ID:     adj.ID,
				Amount: NewMoney(money.New(adj.AmountMinor, adj.Currency)),
				Status: adj.Status,
			}
		}
		out = append(out, view)
	}
	return out
}

type Payout struct {
	ID            uuid.UUID          `json:"id"`
	ShopID        uuid.UUID          `json:"shop_id"`
	Amount        Money              `json:"amount"`
	Gross         Money              `json:"gross"`
	Adjustments   Money              `json:"adjustments"`
	Status        enums.PayoutStatus `json:"status"`
	Method        string             `json:"method"`
	Reference     *string            `json:"reference,omitempty"`
	CommissionIDs []uuid.UUID        `json:"commission_ids,omitempty"`
	CutoffAt      time.Time          `json:"cutoff_at"`
	RequestedAt   time.Time          `json:"requested_at"`
	ProcessedAt   *time.Time         `json:"processed_at,omitempty"`
	FailedAt      *time.Time         `json:"failed_at,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty"`
}

func NewPayout(p *models.Payout) *Payout {
	if p == nil {
		return nil
	}
	out := &Payout{
		ID:            p.ID,
		ShopID:        p.ShopID,
		Amount:        NewMoney(p.Amount()),
		Gross:         NewMoney(money.New(p.GrossMinor, p.Currency)),
		Adjustments:   NewMoney(money.New(p.AdjustmentMinor, p.Currency)),
		Status:        p.Status,
		Method:        p.PayoutMethod,
		Reference:     p.ReferenceNumber,
		CutoffAt:      p.CutoffAt,
		RequestedAt:   p.RequestedAt,
		ProcessedAt:   p.ProcessedAt,
		FailedAt:      p.FailedAt,
		FailureReason: p.FailureReason,
	}
	for _, tx := range p.Transactions {
		out.CommissionIDs = append(out.CommissionIDs, tx.CommissionID)
	}
	return out
}
