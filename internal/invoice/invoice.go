package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/money"
)

// DateLayout is the calendar-date format used on forms and in the API.
const DateLayout = "2006-01-02"

// Invoice is a billing document with computed totals in USD and INR
type Invoice struct {
	ID               string          `json:"id"`
	Number           string          `json:"invoice_number"`
	Date             time.Time       `json:"invoice_date"`
	SenderName       string          `json:"sender_name"`
	SenderAddress    string          `json:"sender_address"`
	SenderTaxID      string          `json:"sender_gstin,omitempty"`
	RecipientName    string          `json:"recipient_name"`
	RecipientAddress string          `json:"recipient_address"`
	RecipientTaxID   string          `json:"recipient_gstin,omitempty"`
	RecipientPAN     string          `json:"recipient_pan,omitempty"`
	RecipientEmail   string          `json:"recipient_email,omitempty"`
	RecipientPhone   string          `json:"recipient_phone,omitempty"`
	RecipientWebsite string          `json:"recipient_website,omitempty"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	SubtotalUSD      decimal.Decimal `json:"subtotal_usd"`
	SubtotalINR      decimal.Decimal `json:"subtotal_inr"`
	TaxUSD           decimal.Decimal `json:"tax_amount_usd"`
	TaxINR           decimal.Decimal `json:"tax_amount_inr"`
	TotalUSD         decimal.Decimal `json:"total_usd"`
	TotalINR         decimal.Decimal `json:"total_inr"`
	Currency         money.Currency  `json:"currency"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	Notes            string          `json:"notes,omitempty"`
	UserID           string          `json:"user_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Items            []*Item         `json:"items,omitempty"`
}

// Item is one line on an invoice. AmountINR is AmountUSD at the invoice's
// exchange rate.
type Item struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Position    int             `json:"position"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	AmountINR   decimal.Decimal `json:"amount_inr"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Totals returns the stored derived amounts.
func (inv *Invoice) Totals() money.Totals {
	return money.Totals{
		SubtotalUSD: inv.SubtotalUSD,
		SubtotalINR: inv.SubtotalINR,
		TaxUSD:      inv.TaxUSD,
		TaxINR:      inv.TaxINR,
		TotalUSD:    inv.TotalUSD,
		TotalINR:    inv.TotalINR,
	}
}

func (inv *Invoice) setTotals(t money.Totals) {
	inv.SubtotalUSD = t.SubtotalUSD
	inv.SubtotalINR = t.SubtotalINR
	inv.TaxUSD = t.TaxUSD
	inv.TaxINR = t.TaxINR
	inv.TotalUSD = t.TotalUSD
	inv.TotalINR = t.TotalINR
}

// Draft is caller input for a new invoice, before totals are computed.
type Draft struct {
	Number           string          `json:"invoice_number"`
	Date             time.Time       `json:"-"`
	SenderName       string          `json:"sender_name"`
	SenderAddress    string          `json:"sender_address"`
	SenderTaxID      string          `json:"sender_gstin"`
	RecipientName    string          `json:"recipient_name"`
	RecipientAddress string          `json:"recipient_address"`
	RecipientTaxID   string          `json:"recipient_gstin"`
	RecipientPAN     string          `json:"recipient_pan"`
	RecipientEmail   string          `json:"recipient_email"`
	RecipientPhone   string          `json:"recipient_phone"`
	RecipientWebsite string          `json:"recipient_website"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	Currency         money.Currency  `json:"currency"`
	// ExchangeRate is used when positive; otherwise the rate source is asked.
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Notes        string          `json:"notes"`
	Items        []DraftItem     `json:"items"`
}

// DraftItem is caller input for one line item.
type DraftItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
}

// Patch is a partial update. Nil fields are left unchanged; a nil Items
// keeps the current items, any other value replaces all of them.
type Patch struct {
	Number           *string
	Date             *time.Time
	SenderName       *string
	SenderAddress    *string
	SenderTaxID      *string
	RecipientName    *string
	RecipientAddress *string
	RecipientTaxID   *string
	RecipientPAN     *string
	RecipientEmail   *string
	RecipientPhone   *string
	RecipientWebsite *string
	TaxRate          *decimal.Decimal
	Currency         *money.Currency
	ExchangeRate     *decimal.Decimal
	Notes            *string
	Items            []DraftItem
}

func amountsOf(items []DraftItem) []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(items))
	for i, it := range items {
		amounts[i] = it.AmountUSD
	}
	return amounts
}

func draftItemsOf(items []*Item) []DraftItem {
	drafts := make([]DraftItem, len(items))
	for i, it := range items {
		drafts[i] = DraftItem{Name: it.Name, Description: it.Description, AmountUSD: it.AmountUSD}
	}
	return drafts
}
