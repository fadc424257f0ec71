// Package commissions resolves commission rates and splits an item's gross
// amount into commission, platform fee and net payable to the shop.
package commissions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/money"
)

var maxRate = decimal.NewFromInt(100)

// RateInputs carries every override that can apply to one (shop, category) pair.
type RateInputs struct {
	// ShopCategoryOverrides come from the shop's assigned shop categories.
	ShopCategoryOverrides []decimal.Decimal
	// CategoryOverrides walk from the product category up to the root.
	CategoryOverrides []*decimal.Decimal
	ShopBase          decimal.Decimal
}

// RateSource loads RateInputs from the catalog.
type RateSource interface {
	RateInputs(ctx context.Context, shopID, categoryID uuid.UUID) (RateInputs, error)
}

// ResolveRate picks the lowest shop category override, then the nearest
// product category override, then the shop base rate.
func ResolveRate(in RateInputs) decimal.Decimal {
	if len(in.ShopCategoryOverrides) > 0 {
		lowest := in.ShopCategoryOverrides[0]
		for _, rate := range in.ShopCategoryOverrides[1:] {
			if rate.LessThan(lowest) {
				lowest = rate
			}
		}
		return lowest
	}
	for _, rate := range in.CategoryOverrides {
		if rate != nil {
			return *rate
		}
	}
	return in.ShopBase
}

// PlatformFee is charged per commission on top of the commission itself.
type PlatformFee struct {
	Type  enums.FeeType
	Value decimal.Decimal
}

// FeeFromConfig reads the configured platform fee.
func FeeFromConfig(cfg config.SettlementConfig) (PlatformFee, error) {
	feeType, err := cfg.FeeType()
	if err != nil {
		return PlatformFee{}, err
	}
	value, err := cfg.FeeValue()
	if err != nil {
		return PlatformFee{}, err
	}
	return PlatformFee{Type: feeType, Value: value}, nil
}

// Amount computes the uncapped fee for gross. Flat fees are major units in
// the gross currency.
func (f PlatformFee) Amount(gross money.Money) money.Money {
	if f.Value.IsZero() {
		return money.Zero(gross.Currency())
	}
	if f.Type == enums.FeeTypePercentage {
		return gross.Percent(f.Value)
	}
	return money.FromMajor(f.Value, gross.Currency())
}

// Breakdown is the result of splitting one item's gross amount.
type Breakdown struct {
	Rate        decimal.Decimal
	Gross       money.Money
	Commission  money.Money
	PlatformFee money.Money
	Net         money.Money
}

// Calculate splits gross at rate percent. The platform fee is capped so the
// net amount never goes negative.
func Calculate(gross money.Money, rate decimal.Decimal, fee PlatformFee) (Breakdown, error) {
	if gross.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "gross amount must not be negative")
	}
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return Breakdown{}, pkgerrors.Newf(pkgerrors.CodeValidation, "commission rate %s out of range", rate.String())
	}

	commission := gross.Percent(rate)
	remaining, err := gross.Sub(commission)
	if err != nil {
		return Breakdown{}, err
	}
	platformFee := fee.Amount(gross)
	if platformFee.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "platform fee must not be negative")
	}
	if platformFee, err = platformFee.Min(remaining); err != nil {
		return Breakdown{}, err
	}
	net, err := remaining.Sub(platformFee)
	if err != nil {
		return Breakdown{}, err
	}

	return Breakdown{
		Rate:        rate,
		Gross:       gross,
		Commission:  commission,
		PlatformFee: platformFee,
		Net:         net,
	}, nil
}

// Calculator binds a rate source and the platform fee.
type Calculator struct {
	rates RateSource
	fee   PlatformFee
}

func NewCalculator(rates RateSource, fee PlatformFee) (*Calculator, error) {
	if rates == nil {
		return nil, fmt.Errorf("rate source required")
	}
	if !fee.Type.IsValid() {
		return nil, fmt.Errorf("invalid platform fee type %q", fee.Type)
	}
	return &Calculator{rates: rates, fee: fee}, nil
}

// RateFor resolves the rate snapshotted onto a new order item.
func (c *Calculator) RateFor(ctx context.Context, shopID, categoryID uuid.UUID) (decimal.Decimal, error) {
	in, err := c.rates.RateInputs(ctx, shopID, categoryID)
	if err != nil {
		return decimal.Zero, err
	}
	return ResolveRate(in), nil
}

// Calculate applies the configured platform fee.
func (c *Calculator) Calculate(gross money.Money, rate decimal.Decimal) (Breakdown, error) {
	return Calculate(gross, rate, c.fee)
}
