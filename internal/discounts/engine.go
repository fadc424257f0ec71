// Package discounts evaluates coupons and automatic shop policies against an
// order snapshot and records coupon redemptions.
package discounts

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/money"
)

const (
	SourceCoupon = "coupon"
	SourcePolicy = "policy"
)

// Coupon rejection reasons reported in error details.
const (
	ReasonUnknownCode     = "unknown_code"
	ReasonInactive        = "inactive"
	ReasonNotStarted      = "not_started"
	ReasonExpired         = "expired"
	ReasonUsageExhausted  = "usage_exhausted"
	ReasonCustomerLimit   = "customer_limit_reached"
	ReasonMinimumNotMet   = "minimum_not_met"
	ReasonNoEligibleItems = "no_eligible_items"
)

// OrderLine is the part of an order item discounts look at.
type OrderLine struct {
	ShopID     uuid.UUID
	CategoryID uuid.UUID
	Quantity   int
	Total      money.Money
}

// OrderSnapshot is an order before its totals freeze.
type OrderSnapshot struct {
	OrderID        uuid.UUID
	CustomerID     string
	CustomerGroups []string
	Currency       enums.Currency
	Lines          []OrderLine
	Subtotal       money.Money
	Shipping       money.Money
}

// Decision is the single discount outcome applied to an order.
type Decision struct {
	Amount       money.Money
	CouponID     *uuid.UUID
	FreeShipping bool
	Sources      []models.DiscountSource
}

// NoDiscount is the zero decision for currency.
func NoDiscount(currency enums.Currency) Decision {
	return Decision{Amount: money.Zero(currency)}
}

// UsageCounts are CouponUsage counts excluding the order being evaluated.
type UsageCounts struct {
	Total    int64
	Customer int64
}

func couponError(code pkgerrors.Code, reason, message string) error {
	return pkgerrors.New(code, message).WithDetails(map[string]any{"reason": reason})
}

// checkCouponWindow rejects a coupon that is switched off or outside its
// validity window at now.
func checkCouponWindow(coupon models.Coupon, now time.Time) error {
	switch {
	case !coupon.IsActive:
		return couponError(pkgerrors.CodeCouponInvalid, ReasonInactive, "coupon is inactive")
	case now.Before(coupon.StartsAt):
		return couponError(pkgerrors.CodeCouponInvalid, ReasonNotStarted, "coupon is not active yet")
	case coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt):
		return couponError(pkgerrors.CodeCouponInvalid, ReasonExpired, "coupon has expired")
	}
	return nil
}

// EvaluateCoupon runs the coupon checks in order: active window, minimum
// order amount, usage limits, then the discount computation.
func EvaluateCoupon(coupon models.Coupon, snap OrderSnapshot, usage UsageCounts, now time.Time) (Decision, error) {
	if err := checkCouponWindow(coupon, now); err != nil {
		return Decision{}, err
	}

	base, err := couponBase(coupon, snap)
	if err != nil {
		return Decision{}, err
	}
	minimum := money.FromMajor(coupon.MinimumOrderAmount, snap.Currency)
	if base.Minor() < minimum.Minor() {
		return Decision{}, couponError(pkgerrors.CodeCouponNotApplicable, ReasonMinimumNotMet, "order does not meet the coupon minimum of "+minimum.String())
	}

	if coupon.UsageLimit != nil && usage.Total >= int64(*coupon.UsageLimit) {
		return Decision{}, couponError(pkgerrors.CodeCouponInvalid, ReasonUsageExhausted, "coupon usage limit reached")
	}
	if coupon.UsageLimitPerCustomer != nil && usage.Customer >= int64(*coupon.UsageLimitPerCustomer) {
		return Decision{}, couponError(pkgerrors.CodeCouponInvalid, ReasonCustomerLimit, "coupon already used the maximum number of times by this customer")
	}

	amount, err := discountAmount(coupon.DiscountType, coupon.DiscountValue, coupon.MaximumDiscountAmount, base, snap.Shipping)
	if err != nil {
		return Decision{}, err
	}

	id := coupon.ID
	return Decision{
		Amount:       amount,
		CouponID:     &id,
		FreeShipping: coupon.DiscountType == enums.DiscountTypeFreeShipping,
		Sources: []models.DiscountSource{{
			Kind:   SourceCoupon,
			ID:     coupon.ID,
			Code:   coupon.Code,
			Amount: amount.Minor(),
		}},
	}, nil
}

// couponBase is the subtotal the coupon applies to. Shop coupons only see
// that shop's items.
func couponBase(coupon models.Coupon, snap OrderSnapshot) (money.Money, error) {
	if coupon.ShopID == nil {
		return snap.Subtotal, nil
	}
	base, matched, err := shopTotal(snap, *coupon.ShopID, nil)
	if err != nil {
		return money.Money{}, err
	}
	if matched == 0 {
		return money.Money{}, couponError(pkgerrors.CodeCouponNotApplicable, ReasonNoEligibleItems, "coupon does not apply to any item in this order")
	}
	return base, nil
}

// shopTotal sums the lines sold by shopID, optionally restricted to
// categories. It returns the total and the matched quantity.
func shopTotal(snap OrderSnapshot, shopID uuid.UUID, categories map[uuid.UUID]struct{}) (money.Money, int, error) {
	total := money.Zero(snap.Currency)
	qty := 0
	for _, line := range snap.Lines {
		if line.ShopID != shopID {
			continue
		}
		if categories != nil {
			if _, ok := categories[line.CategoryID]; !ok {
				continue
			}
		}
		next, err := total.Add(line.Total)
		if err != nil {
			return money.Money{}, 0, err
		}
		total = next
		qty += line.Quantity
	}
	return total, qty, nil
}

// discountAmount computes a discount over base. Percentages honor the cap,
// fixed amounts never exceed base and free shipping zeroes shipping only.
func discountAmount(kind enums.DiscountType, value decimal.Decimal, maxDiscount *decimal.Decimal, base, shipping money.Money) (money.Money, error) {
	if value.IsNegative() {
		return money.Money{}, pkgerrors.New(pkgerrors.CodeCouponInvalid, "discount value must not be negative")
	}
	var amount money.Money
	var err error
	switch kind {
	case enums.DiscountTypePercentage:
		amount, err = base.Percent(value).Min(base)
	case enums.DiscountTypeFixedAmount:
		amount, err = money.FromMajor(value, base.Currency()).Min(base)
	case enums.DiscountTypeFreeShipping:
		return shipping, nil
	default:
		return money.Money{}, pkgerrors.Newf(pkgerrors.CodeCouponInvalid, "unsupported discount type %q", kind)
	}
	if err != nil {
		return money.Money{}, err
	}
	if maxDiscount != nil {
		return amount.Min(money.FromMajor(*maxDiscount, base.Currency()))
	}
	return amount, nil
}

// EvaluatePolicies applies the highest priority matching policy. Lower
// priority matches are added only while every applied policy, including the
// candidate, is stackable. The combined amount never exceeds subtotal plus
// shipping.
func EvaluatePolicies(policies []models.DiscountPolicy, snap OrderSnapshot, now time.Time) (Decision, error) {
	ordered := make([]models.DiscountPolicy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	decision := NoDiscount(snap.Currency)
	ceiling, err := snap.Subtotal.Add(snap.Shipping)
	if err != nil {
		return Decision{}, err
	}
	allStackable := true
	for _, policy := range ordered {
		base, ok, err := policyBase(policy, snap, now)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			continue
		}
		if len(decision.Sources) > 0 {
			if !allStackable {
				break
			}
			if !policy.Stackable {
				continue
			}
		}
		if policy.Discount.Type == enums.DiscountTypeFreeShipping && decision.FreeShipping {
			continue
		}

		amount, err := discountAmount(policy.Discount.Type, policy.Discount.Value, policy.Discount.MaxDiscount, base, snap.Shipping)
		if err != nil {
			return Decision{}, err
		}
		remaining, err := ceiling.Sub(decision.Amount)
		if err != nil {
			return Decision{}, err
		}
		if amount, err = amount.Min(remaining); err != nil {
			return Decision{}, err
		}
		if decision.Amount, err = decision.Amount.Add(amount); err != nil {
			return Decision{}, err
		}
		decision.FreeShipping = decision.FreeShipping || policy.Discount.Type == enums.DiscountTypeFreeShipping
		decision.Sources = append(decision.Sources, models.DiscountSource{
			Kind:   SourcePolicy,
			ID:     policy.ID,
			Amount: amount.Minor(),
		})
		allStackable = allStackable && policy.Stackable
	}
	return decision, nil
}

// policyBase reports whether policy matches and the amount it discounts over.
func policyBase(policy models.DiscountPolicy, snap OrderSnapshot, now time.Time) (money.Money, bool, error) {
	if !policy.IsActive {
		return money.Money{}, false, nil
	}
	if policy.StartsAt != nil && now.Before(*policy.StartsAt) {
		return money.Money{}, false, nil
	}
	if policy.ExpiresAt != nil && !now.Before(*policy.ExpiresAt) {
		return money.Money{}, false, nil
	}

	cond := policy.Conditions
	if len(cond.CustomerGroups) > 0 && !intersects(cond.CustomerGroups, snap.CustomerGroups) {
		return money.Money{}, false, nil
	}

	var categories map[uuid.UUID]struct{}
	if len(cond.CategoryIDs) > 0 {
		categories = make(map[uuid.UUID]struct{}, len(cond.CategoryIDs))
		for _, id := range cond.CategoryIDs {
			categories[id] = struct{}{}
		}
	}
	base, qty, err := shopTotal(snap, policy.ShopID, categories)
	if err != nil {
		return money.Money{}, false, err
	}
	if qty == 0 || qty < cond.MinQuantity {
		return money.Money{}, false, nil
	}
	if cond.MinSubtotal != "" {
		minimum, err := decimal.NewFromString(cond.MinSubtotal)
		if err != nil {
			return money.Money{}, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "policy "+policy.ID.String()+" has an invalid min_subtotal")
		}
		if base.Minor() < money.FromMajor(minimum, snap.Currency).Minor() {
			return money.Money{}, false, nil
		}
	}
	return base, true, nil
}

func intersects(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
