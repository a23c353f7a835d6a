package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	ETB Currency = "ETB"
	USD Currency = "USD"
)

// decimal places per currency
var currencies = map[Currency]int32{
	ETB: 2,
	USD: 2,
}

func minorUnits(c Currency) int32 {
	if units, ok := currencies[c]; ok {
		return units
	}
	return 2
}

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// Money represents a monetary amount in minor units (cents, santim, etc.)
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount for a currency
func Zero(currency Currency) Money {
	return Money{Currency: currency}
}

// ParseMajor converts a decimal string in major units ("1000.00") into
// minor units. Amounts with more precision than the currency allows are
// rejected rather than rounded.
func ParseMajor(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	scaled := d.Shift(minorUnits(currency))
	if !scaled.IsInteger() {
		return Money{}, fmt.Errorf("%w: %q has sub-minor precision", ErrInvalidAmount, amount)
	}
	return Money{AmountMinor: scaled.IntPart(), Currency: currency}, nil
}

// MajorString renders the amount in major units with the currency's precision
func (m Money) MajorString() string {
	return decimal.New(m.AmountMinor, -minorUnits(m.Currency)).StringFixed(minorUnits(m.Currency))
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// Abs returns the absolute value
func (m Money) Abs() Money {
	if m.AmountMinor < 0 {
		return Money{AmountMinor: -m.AmountMinor, Currency: m.Currency}
	}
	return m
}

// Add adds two money values (must be same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts two money values (must be same currency)
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Multiply multiplies by an integer
func (m Money) Multiply(factor int64) Money {
	return Money{AmountMinor: m.AmountMinor * factor, Currency: m.Currency}
}

// Percentage applies a rate in basis points (1/10000), truncating toward
// zero. Commission payouts are never rounded up.
func (m Money) Percentage(basisPoints int64) Money {
	return Money{AmountMinor: m.AmountMinor * basisPoints / 10000, Currency: m.Currency}
}

// WithinTolerance reports whether other differs from m by at most
// toleranceMinor minor units. Different currencies never match.
func (m Money) WithinTolerance(other Money, toleranceMinor int64) bool {
	if m.Currency != other.Currency {
		return false
	}
	diff, err := m.Sub(other)
	if err != nil {
		return false
	}
	return diff.Abs().AmountMinor <= toleranceMinor
}

// LessThan checks if m < other
func (m Money) LessThan(other Money) bool {
	return m.Currency == other.Currency && m.AmountMinor < other.AmountMinor
}

// String returns a human-readable representation
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.MajorString(), m.Currency)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
		Display     string `json:"display"`
	}{
		AmountMinor: m.AmountMinor,
		Currency:    string(m.Currency),
		Display:     m.MajorString(),
	})
}

// Sum adds up multiple money values
func Sum(currency Currency, amounts ...Money) (Money, error) {
	result := Zero(currency)
	for _, a := range amounts {
		var err error
		result, err = result.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return result, nil
}
