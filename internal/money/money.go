// Package money provides an exact, currency-aware amount type.
//
// Amounts are held as integer counts of the smallest currency unit. Arithmetic between
// different currencies and results below zero are rejected rather than clamped.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch indicates arithmetic between two currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	// ErrNegativeAmount indicates an attempt to build a negative value.
	ErrNegativeAmount = errors.New("money: negative amount")
	// ErrInsufficientAmount indicates a subtraction that would go below zero.
	ErrInsufficientAmount = errors.New("money: subtraction would produce a negative amount")
	// ErrOverflow indicates the minor amount no longer fits in int64.
	ErrOverflow = errors.New("money: amount overflow")
	// ErrUnknownCurrency indicates a currency code missing from the table.
	ErrUnknownCurrency = errors.New("money: unknown currency")
)

// Currency pairs an ISO code with the number of minor units per major unit.
type Currency struct {
	Code  string
	Scale int64
}

// Built-in currencies.
var (
	USD = Currency{Code: "USD", Scale: 100}
	EUR = Currency{Code: "EUR", Scale: 100}
	GBP = Currency{Code: "GBP", Scale: 100}
	NGN = Currency{Code: "NGN", Scale: 100}
	JPY = Currency{Code: "JPY", Scale: 1}
)

var currencies = map[string]Currency{
	USD.Code: USD,
	EUR.Code: EUR,
	GBP.Code: GBP,
	NGN.Code: NGN,
	JPY.Code: JPY,
}

// LookupCurrency resolves a currency by its code.
func LookupCurrency(code string) (Currency, error) {
	cur, ok := currencies[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return cur, nil
}

// places returns the decimal exponent for the scale (100 -> 2).
func (c Currency) places() int32 {
	var p int32
	for s := c.Scale; s > 1; s /= 10 {
		p++
	}
	return p
}

// Money is a non-negative amount in minor units of one currency.
type Money struct {
	amount   int64
	currency Currency
}

// Zero returns an empty amount in cur.
func Zero(cur Currency) Money {
	return Money{currency: cur}
}

// FromMinor builds a value from a count of minor units.
func FromMinor(n int64, cur Currency) (Money, error) {
	if n < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: n, currency: cur}, nil
}

// MustFromMinor is FromMinor for constants; it panics on negative input.
func MustFromMinor(n int64, cur Currency) Money {
	m, err := FromMinor(n, cur)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMajor builds a value from a major-unit decimal, rounding half away from zero
// to the currency scale.
func FromMajor(x decimal.Decimal, cur Currency) (Money, error) {
	if x.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	minor := x.Shift(cur.places()).Round(0)
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return Money{}, ErrOverflow
	}
	return Money{amount: minor.IntPart(), currency: cur}, nil
}

// ParseMajor parses a decimal string such as "10.50" into cur.
func ParseMajor(raw string, cur Currency) (Money, error) {
	x, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return FromMajor(x, cur)
}

// Amount returns the minor-unit count.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the currency of m.
func (m Money) Currency() Currency { return m.currency }

// ToMajor returns the exact major-unit value.
func (m Money) ToMajor() decimal.Decimal {
	return decimal.New(m.amount, -m.currency.places())
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount == 0 }

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, ErrCurrencyMismatch
	}
	if o.amount > math.MaxInt64-m.amount {
		return Money{}, ErrOverflow
	}
	return Money{amount: m.amount + o.amount, currency: m.currency}, nil
}

// Subtract returns m - o and fails when the result would be negative.
func (m Money) Subtract(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, ErrCurrencyMismatch
	}
	if o.amount > m.amount {
		return Money{}, ErrInsufficientAmount
	}
	return Money{amount: m.amount - o.amount, currency: m.currency}, nil
}

// Multiply scales m by a non-negative factor and rounds to minor units.
func (m Money) Multiply(factor decimal.Decimal) (Money, error) {
	if factor.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	product := decimal.NewFromInt(m.amount).Mul(factor).Round(0)
	if product.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return Money{}, ErrOverflow
	}
	return Money{amount: product.IntPart(), currency: m.currency}, nil
}

// Cmp compares m and o: -1, 0 or +1.
func (m Money) Cmp(o Money) (int, error) {
	if m.currency != o.currency {
		return 0, ErrCurrencyMismatch
	}
	switch {
	case m.amount < o.amount:
		return -1, nil
	case m.amount > o.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// GreaterThanOrEqual reports m >= o for same-currency values.
func (m Money) GreaterThanOrEqual(o Money) bool {
	c, err := m.Cmp(o)
	return err == nil && c >= 0
}

// String formats m as "USD 12.34".
func (m Money) String() string {
	return m.currency.Code + " " + m.ToMajor().StringFixed(m.currency.places())
}
