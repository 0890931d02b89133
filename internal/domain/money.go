package domain

import "github.com/shopspring/decimal"

// minorUnitExponent is the number of decimal places between minor and major
// currency units.
const minorUnitExponent = 2

// MinorToDecimal converts an integer minor-unit amount to a decimal in major units.
func MinorToDecimal(amount int64) decimal.Decimal {
	return decimal.New(amount, -minorUnitExponent)
}

// FormatMinorUnits renders an amount such as 12050 as "120.50".
func FormatMinorUnits(amount int64) string {
	return MinorToDecimal(amount).StringFixed(minorUnitExponent)
}
