package invoice

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/money"
)

const required = "is required"

// validateDraft returns the violated fields of d, or nil.
func validateDraft(d Draft) map[string]string {
	v := make(map[string]string)

	for field, value := range map[string]string{
		"sender_name":       d.SenderName,
		"sender_address":    d.SenderAddress,
		"recipient_name":    d.RecipientName,
		"recipient_address": d.RecipientAddress,
	} {
		if strings.TrimSpace(value) == "" {
			v[field] = required
		}
	}

	if len(d.Items) == 0 {
		v["items"] = "at least one item is required"
	}
	for i, it := range d.Items {
		if strings.TrimSpace(it.Name) == "" {
			v[fmt.Sprintf("items[%d].name", i)] = required
		}
		if !it.AmountUSD.IsPositive() {
			v[fmt.Sprintf("items[%d].amount_usd", i)] = "must be greater than zero"
		}
	}

	validateRates(v, d.TaxRate, d.ExchangeRate)

	if !d.Currency.Valid() {
		v["currency"] = "must be USD or INR"
	}

	if len(v) == 0 {
		return nil
	}
	return v
}

// validateRates checks the tax rate and, when supplied, the exchange rate.
func validateRates(v map[string]string, taxRate, exchangeRate decimal.Decimal) {
	if taxRate.IsNegative() {
		v["tax_rate"] = "must not be negative"
	}
	if exchangeRate.IsNegative() {
		v["exchange_rate"] = "must be positive"
	}
}

// rateViolation reports a rate the calculator cannot use.
func rateViolation(taxRate, exchangeRate decimal.Decimal) *ValidationError {
	switch money.ValidateRates(taxRate, exchangeRate) {
	case nil:
		return nil
	case money.ErrNegativeTaxRate:
		return &ValidationError{Violations: map[string]string{"tax_rate": "must not be negative"}}
	default:
		return &ValidationError{Violations: map[string]string{"exchange_rate": "must be positive"}}
	}
}
