package commissions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/money"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func TestCalculateShopRateWithFlatFee(t *testing.T) {
	gross := money.MustParse("50.00", enums.CurrencyUSD)
	fee := PlatformFee{Type: enums.FeeTypeFlat, Value: dec("1.00")}

	b, err := Calculate(gross, dec("10.00"), fee)
	require.NoError(t, err)
	assert.Equal(t, "5.00", b.Commission.StringFixed())
	assert.Equal(t, "1.00", b.PlatformFee.StringFixed())
	assert.Equal(t, "44.00", b.Net.StringFixed())
	assert.True(t, b.Rate.Equal(dec("10")))
}

func TestCalculateRoundsHalfToEven(t *testing.T) {
	noFee := PlatformFee{Type: enums.FeeTypeFlat}

	// 0.25 * 10% = 0.025 -> 0.02
	b, err := Calculate(money.New(25, enums.CurrencyUSD), dec("10"), noFee)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Commission.Minor())
	assert.Equal(t, int64(23), b.Net.Minor())

	// 0.35 * 10% = 0.035 -> 0.04
	b, err = Calculate(money.New(35, enums.CurrencyUSD), dec("10"), noFee)
	require.NoError(t, err)
	assert.Equal(t, int64(4), b.Commission.Minor())
}

func TestCalculatePercentageFee(t *testing.T) {
	b, err := Calculate(money.MustParse("80.00", enums.CurrencyEUR), dec("12.5"), PlatformFee{Type: enums.FeeTypePercentage, Value: dec("2")})
	require.NoError(t, err)
	assert.Equal(t, "10.00", b.Commission.StringFixed())
	assert.Equal(t, "1.60", b.PlatformFee.StringFixed())
	assert.Equal(t, "68.40", b.Net.StringFixed())
	assert.Equal(t, enums.CurrencyEUR, b.Net.Currency())
}

func TestCalculateCapsFeeSoNetIsNeverNegative(t *testing.T) {
	b, err := Calculate(money.MustParse("2.00", enums.CurrencyUSD), dec("50"), PlatformFee{Type: enums.FeeTypeFlat, Value: dec("5")})
	require.NoError(t, err)
	assert.Equal(t, "1.00", b.Commission.StringFixed())
	assert.Equal(t, "1.00", b.PlatformFee.StringFixed())
	assert.True(t, b.Net.IsZero())
}

func TestCalculateRejectsBadInput(t *testing.T) {
	fee := PlatformFee{Type: enums.FeeTypeFlat}
	_, err := Calculate(money.New(-1, enums.CurrencyUSD), dec("10"), fee)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = Calculate(money.New(100, enums.CurrencyUSD), dec("100.01"), fee)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCommissionNeverExceedsGross(t *testing.T) {
	fee := PlatformFee{Type: enums.FeeTypePercentage, Value: dec("3")}
	for _, minor := range []int64{0, 1, 7, 99, 1001, 123457} {
		for _, rate := range []string{"0", "0.5", "10", "33.33", "100"} {
			b, err := Calculate(money.New(minor, enums.CurrencyUSD), dec(rate), fee)
			require.NoError(t, err)
			assert.LessOrEqual(t, b.Commission.Minor(), minor)
			assert.GreaterOrEqual(t, b.Net.Minor(), int64(0))
			assert.Equal(t, minor, b.Commission.Minor()+b.PlatformFee.Minor()+b.Net.Minor())
		}
	}
}

func TestResolveRatePrecedence(t *testing.T) {
	base := dec("10.00")

	assert.True(t, ResolveRate(RateInputs{ShopBase: base}).Equal(base))

	inherited := RateInputs{
		CategoryOverrides: []*decimal.Decimal{nil, decPtr("7.5"), decPtr("6")},
		ShopBase:          base,
	}
	assert.True(t, ResolveRate(inherited).Equal(dec("7.5")))

	shopCategory := RateInputs{
		ShopCategoryOverrides: []decimal.Decimal{dec("9"), dec("4.5")},
		CategoryOverrides:     []*decimal.Decimal{decPtr("3")},
		ShopBase:              base,
	}
	assert.True(t, ResolveRate(shopCategory).Equal(dec("4.5")))
}

type stubRates struct {
	in  RateInputs
	err error
}

func (s stubRates) RateInputs(context.Context, uuid.UUID, uuid.UUID) (RateInputs, error) {
	return s.in, s.err
}

func TestCalculatorUsesSourceAndConfiguredFee(t *testing.T) {
	fee, err := FeeFromConfig(config.SettlementConfig{PlatformFeeType: "flat", PlatformFeeValue: "1.00"})
	require.NoError(t, err)

	calc, err := NewCalculator(stubRates{in: RateInputs{CategoryOverrides: []*decimal.Decimal{decPtr("8")}, ShopBase: dec("10")}}, fee)
	require.NoError(t, err)

	rate, err := calc.RateFor(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("8")))

	b, err := calc.Calculate(money.MustParse("50.00", enums.CurrencyUSD), rate)
	require.NoError(t, err)
	assert.Equal(t, "4.00", b.Commission.StringFixed())
	assert.Equal(t, "45.00", b.Net.StringFixed())
}

func TestNewCalculatorValidates(t *testing.T) {
	_, err := NewCalculator(nil, PlatformFee{Type: enums.FeeTypeFlat})
	assert.Error(t, err)
	_, err = NewCalculator(stubRates{}, PlatformFee{Type: "tiered"})
	assert.Error(t, err)
}
