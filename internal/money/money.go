// Package money holds the fixed-point rules for currency amounts and rates.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyScale is the number of decimal places kept for currency amounts.
	CurrencyScale int32 = 2
	// RateScale is the number of decimal places kept for intermediate rate math.
	RateScale int32 = 6

	DefaultCurrency = "USD"
)

// Cent is the smallest representable currency unit.
var Cent = decimal.New(1, -CurrencyScale)

// Round rounds to currency precision, half away from zero (HALF_UP for positive amounts).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyScale)
}

// RoundRate rounds to rate precision.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RateScale)
}

// DivRate divides with HALF_UP rounding at rate precision.
func DivRate(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, RateScale)
}

// DivCurrency divides with HALF_UP rounding at currency precision.
func DivCurrency(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, CurrencyScale)
}

// Parse reads a decimal string and rejects values with more than two decimal places.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !HasCurrencyPrecision(d) {
		return decimal.Zero, fmt.Errorf("amount %s has more than %d decimal places", s, CurrencyScale)
	}
	return d, nil
}

// HasCurrencyPrecision reports whether d carries no digits beyond currency scale.
func HasCurrencyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(CurrencyScale))
}

// ValidateAmount checks that d is a positive currency amount.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", d.StringFixed(CurrencyScale))
	}
	if !HasCurrencyPrecision(d) {
		return fmt.Errorf("amount %s has more than %d decimal places", d.String(), CurrencyScale)
	}
	return nil
}

// Format renders d at currency precision.
func Format(d decimal.Decimal) string {
	return d.StringFixed(CurrencyScale)
}
