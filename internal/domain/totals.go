package domain

import "github.com/shopspring/decimal"

// NoTaxName is reported when there is nothing to tax.
const NoTaxName = "N/A"

type TaxRate struct {
	Region  string
	Name    string
	Percent decimal.Decimal
}

type Totals struct {
	Subtotal   decimal.Decimal
	TaxName    string
	TaxPercent decimal.Decimal
	TaxAmount  decimal.Decimal
	Total      decimal.Decimal
	RegionCode string
}

// FormatAmount renders a monetary value with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MinorUnits converts an amount to integer cents.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}
