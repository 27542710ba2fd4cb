package invoice

import "context"

// DB defines the interface for invoice storage. Implementations return
// ErrNotFound for unknown ids.
type DB interface {
	// CreateInvoice stores the invoice and its items atomically
	CreateInvoice(ctx context.Context, inv *Invoice) error

	// GetInvoice returns the invoice with its items
	GetInvoice(ctx context.Context, id string) (*Invoice, error)

	// ListInvoices returns the user's invoices, newest first, without items
	ListInvoices(ctx context.Context, userID string) ([]*Invoice, error)

	// ListItems returns an invoice's items ordered by Position
	ListItems(ctx context.Context, invoiceID string) ([]*Item, error)

	// UpdateInvoice saves the invoice fields. A non-nil items slice replaces
	// every existing item in the same transaction.
	UpdateInvoice(ctx context.Context, inv *Invoice, items []*Item) error

	// DeleteInvoice removes the invoice and its items
	DeleteInvoice(ctx context.Context, id string) error

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}
