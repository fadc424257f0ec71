package orders

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/internal/discounts"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/inventory"
	"github.com/angelmondragon/tradepost/pkg/money"
)

const orderNumberPrefix = "TP"

// validateCreate checks the request shape and returns tax and shipping in the
// order currency.
func validateCreate(in *CreateOrderInput) (money.Money, money.Money, error) {
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	if in.CustomerID == "" {
		return money.Money{}, money.Money{}, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if !in.Currency.IsValid() {
		return money.Money{}, money.Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported currency %q", in.Currency)
	}
	if len(in.Items) == 0 {
		return money.Money{}, money.Money{}, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	for i, item := range in.Items {
		if item.VariantID == uuid.Nil {
			return money.Money{}, money.Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "item %d: variant id is required", i).
				WithDetails(map[string]any{"index": i})
		}
		if item.Quantity <= 0 {
			return money.Money{}, money.Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "item %d: quantity must be positive", i).
				WithDetails(map[string]any{"index": i, "variant_id": item.VariantID.String()})
		}
	}

	tax, err := charge("tax", in.Tax, in.Currency)
	if err != nil {
		return money.Money{}, money.Money{}, err
	}
	shipping, err := charge("shipping", in.Shipping, in.Currency)
	if err != nil {
		return money.Money{}, money.Money{}, err
	}
	if err := validateAddresses(in.Addresses); err != nil {
		return money.Money{}, money.Money{}, err
	}
	return tax, shipping, nil
}

// charge normalises an optional order-level amount. A zero Money carries no
// currency and is read as zero in the order currency.
func charge(name string, m money.Money, currency enums.Currency) (money.Money, error) {
	if m.Currency() == "" {
		if !m.IsZero() {
			return money.Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s currency is required", name)
		}
		return money.Zero(currency), nil
	}
	if m.Currency() != currency {
		return money.Money{}, pkgerrors.Newf(pkgerrors.CodeCurrencyMismatch, "%s is in %s, order is in %s", name, m.Currency(), currency)
	}
	if m.IsNegative() {
		return money.Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must not be negative", name)
	}
	return m, nil
}

func validateAddresses(addresses []AddressInput) error {
	seen := map[enums.AddressType]bool{}
	for _, a := range addresses {
		if !a.Type.IsValid() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown address type %q", a.Type)
		}
		if seen[a.Type] {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "duplicate %s address", a.Type).
				WithDetails(map[string]any{"address_type": a.Type})
		}
		seen[a.Type] = true

		missing := []string{}
		for field, value := range map[string]string{
			"recipient":   a.Recipient,
			"line1":       a.Line1,
			"city":        a.City,
			"postal_code": a.PostalCode,
			"country":     a.Country,
		} {
			if strings.TrimSpace(value) == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return pkgerrors.Newf(pkgerrors.CodeValidation, "%s address is incomplete", a.Type).
				WithDetails(map[string]any{"address_type": a.Type, "missing": missing})
		}
	}
	if !seen[enums.AddressTypeShipping] {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	return nil
}

func buildAddresses(orderID uuid.UUID, in []AddressInput, now time.Time) []models.OrderAddress {
	out := make([]models.OrderAddress, len(in))
	for i, a := range in {
		out[i] = models.OrderAddress{
			ID:          uuid.New(),
			OrderID:     orderID,
			AddressType: a.Type,
			Recipient:   strings.TrimSpace(a.Recipient),
			Line1:       strings.TrimSpace(a.Line1),
			Line2:       a.Line2,
			City:        strings.TrimSpace(a.City),
			State:       a.State,
			PostalCode:  strings.TrimSpace(a.PostalCode),
			Country:     strings.ToUpper(strings.TrimSpace(a.Country)),
			Phone:       a.Phone,
			CreatedAt:   now,
		}
	}
	return out
}

// orderNumber is human readable and unique enough that a collision surfaces as
// a retryable conflict on the unique index.
func orderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return orderNumberPrefix + "-" + now.Format("20060102") + "-" + suffix
}

func snapshotOf(order *models.Order, groups []string) discounts.OrderSnapshot {
	lines := make([]discounts.OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, discounts.OrderLine{
			ShopID:     item.ShopID,
			CategoryID: item.CategoryID,
			Quantity:   item.Quantity,
			Total:      money.New(item.TotalPriceMinor, order.Currency),
		})
	}
	return discounts.OrderSnapshot{
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		CustomerGroups: groups,
		Currency:       order.Currency,
		Lines:          lines,
		Subtotal:       order.Subtotal(),
		Shipping:       order.Shipping(),
	}
}

// applyDecision replaces the order discount and recomputes the total as
// subtotal + tax + shipping - discount.
func applyDecision(order *models.Order, decision discounts.Decision) error {
	amount := decision.Amount
	if amount.Currency() == "" {
		amount = money.Zero(order.Currency)
	}
	if amount.Currency() != order.Currency {
		return pkgerrors.Newf(pkgerrors.CodeCurrencyMismatch, "discount is in %s, order is in %s", amount.Currency(), order.Currency)
	}
	if amount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeInternal, "discount must not be negative")
	}
	gross, err := money.Sum(order.Currency, order.Subtotal(), order.Tax(), order.Shipping())
	if err != nil {
		return err
	}
	total, err := gross.Sub(amount)
	if err != nil {
		return err
	}
	if total.IsNegative() {
		return pkgerrors.Newf(pkgerrors.CodeInternal, "discount %s exceeds order amount %s", amount, gross)
	}

	order.DiscountMinor = amount.Minor()
	order.TotalMinor = total.Minor()
	order.CouponID = decision.CouponID
	order.DiscountSources = decision.Sources
	return nil
}

func inventoryLines(items []models.OrderItem) []inventory.Line {
	quantities := map[uuid.UUID]int{}
	var lines []inventory.Line
	for _, item := range items {
		if _, ok := quantities[item.VariantID]; !ok {
			lines = append(lines, inventory.Line{VariantID: item.VariantID})
		}
		quantities[item.VariantID] += item.Quantity
	}
	for i := range lines {
		lines[i].Quantity = quantities[lines[i].VariantID]
	}
	return lines
}

func findItem(order *models.Order, id uuid.UUID) *models.OrderItem {
	for i := range order.Items {
		if order.Items[i].ID == id {
			return &order.Items[i]
		}
	}
	return nil
}

func setItemStatus(item *models.OrderItem, status enums.OrderItemStatus, now time.Time) {
	item.Status = status
	item.UpdatedAt = now
	switch status {
	case enums.OrderItemStatusShipped:
		item.ShippedAt = &now
	case enums.OrderItemStatusDelivered:
		item.DeliveredAt = &now
	case enums.OrderItemStatusRefunded:
		item.RefundedAt = &now
	}
}

func stampOrder(order *models.Order, status enums.OrderStatus, now time.Time) {
	order.UpdatedAt = now
	switch status {
	case enums.OrderStatusProcessing:
		order.ConfirmedAt = &now
	case enums.OrderStatusShipped:
		order.ShippedAt = &now
	case enums.OrderStatusDelivered:
		order.DeliveredAt = &now
	case enums.OrderStatusCancelled:
		order.CancelledAt = &now
	case enums.OrderStatusRefunded:
		order.RefundedAt = &now
	case enums.OrderStatusFailed:
		order.FailedAt = &now
	}
}

// hasFulfilled reports whether any item has left the shop.
func hasFulfilled(items []models.OrderItem) bool {
	for _, item := range items {
		if item.Status == enums.OrderItemStatusShipped || item.Status == enums.OrderItemStatusDelivered {
			return true
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	return slices.Contains(ids, id)
}

func containsStatus(statuses []enums.OrderItemStatus, status enums.OrderItemStatus) bool {
	return slices.Contains(statuses, status)
}
