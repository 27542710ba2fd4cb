// Package itemscan extracts draft invoice line items from an uploaded bill
// or timesheet using a vision model.
package itemscan

import (
	"context"

	"github.com/shopspring/decimal"
)

// LineItem is one line read from a document
type LineItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
}

// Scanner defines the interface for line-item extraction
type Scanner interface {
	// ScanItems analyzes an image or PDF and returns its line items
	ScanItems(ctx context.Context, data []byte, contentType string) ([]LineItem, error)
	// Close closes the scanner and releases resources
	Close() error
}
