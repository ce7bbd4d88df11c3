// Package money converts between ledger minor units and decimal strings.
// All amounts in the ledger are int64 minor units with two decimal places.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const exponent = 2

// Parse converts a decimal string ("12.50") into minor units (1250).
// More than two fractional digits is an error rather than a silent rounding.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	scaled := d.Shift(exponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: more than %d decimal places", s, exponent)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("parse amount %q: out of range", s)
	}
	return scaled.IntPart(), nil
}

// Decimal returns minor units as a decimal in major units.
func Decimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -exponent)
}

// String formats minor units as a fixed two-place decimal ("12.50").
func String(minor int64) string {
	return Decimal(minor).StringFixed(exponent)
}

// Format formats minor units with a currency code ("12.50 USD").
func Format(minor int64, currency string) string {
	return String(minor) + " " + currency
}
