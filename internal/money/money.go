// Package money derives invoice subtotal, tax and total amounts in USD and INR.
//
// All arithmetic uses decimal values; nothing is rounded until Format is
// called for display.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is one of the two supported display currencies.
type Currency string

const (
	USD Currency = "USD"
	INR Currency = "INR"
)

// Valid reports whether c is USD or INR.
func (c Currency) Valid() bool {
	return c == USD || c == INR
}

// Symbol returns the display symbol for the currency.
func (c Currency) Symbol() string {
	if c == INR {
		return "₹"
	}
	return "$"
}

var (
	ErrNegativeTaxRate = errors.New("tax rate must not be negative")
	ErrNonPositiveRate = errors.New("exchange rate must be positive")
)

const centPlaces = 2

// Totals holds the derived amounts of an invoice in both currencies.
type Totals struct {
	SubtotalUSD decimal.Decimal `json:"subtotal_usd"`
	SubtotalINR decimal.Decimal `json:"subtotal_inr"`
	TaxUSD      decimal.Decimal `json:"tax_usd"`
	TaxINR      decimal.Decimal `json:"tax_inr"`
	TotalUSD    decimal.Decimal `json:"total_usd"`
	TotalINR    decimal.Decimal `json:"total_inr"`
}

// ComputeTotals sums the USD amounts and derives tax and totals in both
// currencies. Negative amounts are summed as given.
func ComputeTotals(amountsUSD []decimal.Decimal, taxRatePercent, exchangeRate decimal.Decimal) Totals {
	subtotalUSD := decimal.Zero
	for _, a := range amountsUSD {
		subtotalUSD = subtotalUSD.Add(a)
	}
	subtotalINR := ToINR(subtotalUSD, exchangeRate)

	taxUSD := percentOf(subtotalUSD, taxRatePercent)
	taxINR := percentOf(subtotalINR, taxRatePercent)

	return Totals{
		SubtotalUSD: subtotalUSD,
		SubtotalINR: subtotalINR,
		TaxUSD:      taxUSD,
		TaxINR:      taxINR,
		TotalUSD:    subtotalUSD.Add(taxUSD),
		TotalINR:    subtotalINR.Add(taxINR),
	}
}

// ToINR converts a USD amount with the given USD→INR rate.
func ToINR(usd, exchangeRate decimal.Decimal) decimal.Decimal {
	return usd.Mul(exchangeRate)
}

// Shift(-2) divides by 100 without introducing a division precision limit.
func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Shift(-2)
}

// ValidateRates checks the calculator's preconditions.
func ValidateRates(taxRatePercent, exchangeRate decimal.Decimal) error {
	if taxRatePercent.IsNegative() {
		return ErrNegativeTaxRate
	}
	if !exchangeRate.IsPositive() {
		return ErrNonPositiveRate
	}
	return nil
}

// ParseAmount parses user input, treating missing or invalid values as zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Format renders an amount rounded to cents with the currency symbol.
func Format(d decimal.Decimal, c Currency) string {
	return c.Symbol() + d.StringFixed(centPlaces)
}
