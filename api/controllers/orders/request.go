package orders

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/api/validators"
	internalorders "github.com/angelmondragon/tradepost/internal/orders"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/money"
)

const (
	maxNoteLen   = 1000
	maxFieldLen  = 200
	maxCouponLen = 64
)

type createOrderItem struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"min=1,max=1000"`
}

type createOrderAddress struct {
	Type       string  `json:"type" validate:"required,oneof=shipping billing"`
	Recipient  string  `json:"recipient" validate:"required,max=200"`
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string  `json:"city" validate:"required,max=100"`
	State      *string `json:"state,omitempty" validate:"omitempty,max=100"`
	PostalCode string  `json:"postal_code" validate:"required,max=20"`
	Country    string  `json:"country" validate:"required,len=2"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type createOrderRequest struct {
	// CustomerID lets admins place an order on behalf of a customer.
	CustomerID string               `json:"customer_id,omitempty" validate:"omitempty,max=128"`
	Currency   string               `json:"currency" validate:"required,len=3"`
	Items      []createOrderItem    `json:"items" validate:"required,min=1,max=100,dive"`
	Addresses  []createOrderAddress `json:"addresses" validate:"required,min=1,max=2,dive"`
	Tax        string               `json:"tax,omitempty"`
	Shipping   string               `json:"shipping,omitempty"`
	Notes      *string              `json:"notes,omitempty"`
}

func (req createOrderRequest) toInput(customerID string) (internalorders.CreateOrderInput, error) {
	currency, err := enums.ParseCurrency(strings.ToUpper(strings.TrimSpace(req.Currency)))
	if err != nil {
		return internalorders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	tax, err := parseAmount(req.Tax, currency, "tax")
	if err != nil {
		return internalorders.CreateOrderInput{}, err
	}
	shipping, err := parseAmount(req.Shipping, currency, "shipping")
	if err != nil {
		return internalorders.CreateOrderInput{}, err
	}

	in := internalorders.CreateOrderInput{
		CustomerID: customerID,
		Currency:   currency,
		Tax:        tax,
		Shipping:   shipping,
		Notes:      validators.OptionalString(req.Notes, maxNoteLen),
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, internalorders.ItemInput{
			VariantID: uuid.MustParse(item.VariantID),
			Quantity:  item.Quantity,
		})
	}
	for _, addr := range req.Addresses {
		in.Addresses = append(in.Addresses, internalorders.AddressInput{
			Type:       enums.AddressType(addr.Type),
			Recipient:  validators.SanitizeString(addr.Recipient, maxFieldLen),
			Line1:      validators.SanitizeString(addr.Line1, maxFieldLen),
			Line2:      validators.OptionalString(addr.Line2, maxFieldLen),
			City:       validators.SanitizeString(addr.City, maxFieldLen),
			State:      validators.OptionalString(addr.State, maxFieldLen),
			PostalCode: validators.SanitizeString(addr.PostalCode, maxFieldLen),
			Country:    strings.ToUpper(validators.SanitizeString(addr.Country, 2)),
			Phone:      validators.OptionalString(addr.Phone, maxFieldLen),
		})
	}
	return in, nil
}

// parseAmount reads an optional non-negative major-unit amount.
func parseAmount(raw string, currency enums.Currency, field string) (money.Money, error) {
	if raw == "" {
		return money.Zero(currency), nil
	}
	amount, err := money.Parse(raw, currency)
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field).WithDetails(map[string]any{"field": field})
	}
	if amount.IsNegative() {
		return money.Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must not be negative", field).WithDetails(map[string]any{"field": field})
	}
	return amount, nil
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type statusRequest struct {
	Status string  `json:"status" validate:"required"`
	Note   *string `json:"note,omitempty"`
}

type itemStatusRequest struct {
	Status string `json:"status" validate:"required"`
}
