// Package money holds exact currency amounts as integer minor units.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Money is an amount in the minor unit of its currency.
type Money struct {
	amount   int64
	currency enums.Currency
}

// New builds a Money from minor units.
func New(minor int64, currency enums.Currency) Money {
	return Money{amount: minor, currency: currency}
}

// Zero returns a zero amount in currency.
func Zero(currency enums.Currency) Money {
	return Money{currency: currency}
}

// FromDecimal converts a major-unit decimal. Values with more precision than the
// currency allows are rejected rather than rounded.
func FromDecimal(value decimal.Decimal, currency enums.Currency) (Money, error) {
	if !currency.IsValid() {
		return Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported currency %q", currency)
	}
	scaled := value.Shift(currency.MinorUnits())
	if !scaled.Equal(scaled.Truncate(0)) {
		return Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s has more than %d decimal places for %s", value.String(), currency.MinorUnits(), currency)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(1<<62)) {
		return Money{}, pkgerrors.Newf(pkgerrors.CodeValidation, "amount %s out of range", value.String())
	}
	return Money{amount: scaled.IntPart(), currency: currency}, nil
}

// FromMajor converts a major-unit decimal, rounding half to even at the
// currency's minor unit. Use it for configured amounts such as coupon caps.
func FromMajor(value decimal.Decimal, currency enums.Currency) Money {
	return Money{amount: value.Shift(currency.MinorUnits()).RoundBank(0).IntPart(), currency: currency}
}

// Parse reads a major-unit string such as "103.00".
func Parse(raw string, currency enums.Currency) (Money, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return FromDecimal(value, currency)
}

// MustParse is Parse for constants and tests.
func MustParse(raw string, currency enums.Currency) Money {
	m, err := Parse(raw, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Minor() int64             { return m.amount }
func (m Money) Currency() enums.Currency { return m.currency }
func (m Money) IsZero() bool             { return m.amount == 0 }
func (m Money) IsNegative() bool         { return m.amount < 0 }
func (m Money) IsPositive() bool         { return m.amount > 0 }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -m.currency.MinorUnits())
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(m.currency.MinorUnits()), m.currency)
}

// StringFixed renders the major-unit amount without the currency code.
func (m Money) StringFixed() string {
	return m.Decimal().StringFixed(m.currency.MinorUnits())
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return pkgerrors.Newf(pkgerrors.CodeCurrencyMismatch, "cannot combine %s with %s", m.currency, other.currency)
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// Negate flips the sign.
func (m Money) Negate() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

// Times multiplies by an integer quantity.
func (m Money) Times(qty int64) Money {
	return Money{amount: m.amount * qty, currency: m.currency}
}

// MulRate multiplies by an arbitrary decimal factor and rounds half to even at
// the minor unit.
func (m Money) MulRate(factor decimal.Decimal) Money {
	product := decimal.NewFromInt(m.amount).Mul(factor)
	return Money{amount: product.RoundBank(0).IntPart(), currency: m.currency}
}

// Percent applies a rate expressed in percent (10 means 10%).
func (m Money) Percent(rate decimal.Decimal) Money {
	return m.MulRate(rate.Div(hundred))
}

// Cmp compares two amounts of the same currency.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	}
	return 0, nil
}

// Min returns the smaller of two same-currency amounts.
func (m Money) Min(other Money) (Money, error) {
	c, err := m.Cmp(other)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return m, nil
	}
	return other, nil
}

// Compare is a total order over (currency, amount), usable for sorting mixed lists.
func Compare(a, b Money) int {
	if a.currency != b.currency {
		return strings.Compare(string(a.currency), string(b.currency))
	}
	switch {
	case a.amount < b.amount:
		return -1
	case a.amount > b.amount:
		return 1
	}
	return 0
}

// Sum adds amounts that must all share currency.
func Sum(currency enums.Currency, amounts ...Money) (Money, error) {
	total := Zero(currency)
	for _, a := range amounts {
		next, err := total.Add(a)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}

// Allocate splits the amount into n shares that sum back to the original. The
// remainder goes one minor unit at a time to the leading shares.
func (m Money) Allocate(n int) ([]Money, error) {
	if n <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation requires at least one share")
	}
	weights := make([]int64, n)
	for i := range weights {
		weights[i] = 1
	}
	return m.Split(weights)
}

// Split allocates proportionally to non-negative weights. Shares are floored and
// the leftover minor units go to the leading shares with a positive weight.
func (m Money) Split(weights []int64) ([]Money, error) {
	if len(weights) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation requires at least one share")
	}
	var total int64
	for _, w := range weights {
		if w < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation weights must be non-negative")
		}
		total += w
	}
	if total == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation weights sum to zero")
	}

	sign := int64(1)
	amount := m.amount
	if amount < 0 {
		sign, amount = -1, -amount
	}

	shares := make([]Money, len(weights))
	var assigned int64
	for i, w := range weights {
		part := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(w)).Div(decimal.NewFromInt(total)).Floor().IntPart()
		shares[i] = Money{amount: part, currency: m.currency}
		assigned += part
	}
	for i := 0; assigned < amount; i = (i + 1) % len(weights) {
		if weights[i] == 0 {
			continue
		}
		shares[i].amount++
		assigned++
	}
	if sign < 0 {
		for i := range shares {
			shares[i].amount = -shares[i].amount
		}
	}
	return shares, nil
}

// Prorate returns m * part / whole, rounding half to even at the minor unit.
func (m Money) Prorate(part, whole int64) (Money, error) {
	if whole <= 0 {
		return Money{}, pkgerrors.New(pkgerrors.CodeValidation, "proration base must be positive")
	}
	w := decimal.NewFromInt(whole)
	q, r := decimal.NewFromInt(m.amount).Mul(decimal.NewFromInt(part)).QuoRem(w, 0)
	twice := r.Abs().Mul(decimal.NewFromInt(2))
	if c := twice.Cmp(w); c > 0 || (c == 0 && q.IntPart()%2 != 0) {
		if r.IsNegative() {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return Money{amount: q.IntPart(), currency: m.currency}, nil
}
