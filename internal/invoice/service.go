// Package invoice implements the invoice workflow and its HTTP surface.
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/exchange"
	"github.com/zombor/invoice-tracker/internal/money"
)

// DefaultStoreTimeout bounds each store call when none is configured.
const DefaultStoreTimeout = 10 * time.Second

// IDGenerator generates unique IDs for invoices and items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// phase is how far a workflow call got before failing.
type phase string

const (
	phaseValidating phase = "validating"
	phaseComputing  phase = "computing"
	phasePersisting phase = "persisting"
)

// Service orchestrates invoice creation, retrieval, update and deletion.
type Service struct {
	db           DB
	rates        exchange.RateSource
	storeTimeout time.Duration
	idGenerator  IDGenerator
	timeSource   TimeSource
}

// NewService creates a new Service with uuid ids and the wall clock
func NewService(db DB, rates exchange.RateSource, storeTimeout time.Duration) *Service {
	return NewServiceWithDeps(db, rates, storeTimeout, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, rates exchange.RateSource, storeTimeout time.Duration, idGen IDGenerator, timeSrc TimeSource) *Service {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Service{
		db:           db,
		rates:        rates,
		storeTimeout: storeTimeout,
		idGenerator:  idGen,
		timeSource:   timeSrc,
	}
}

// Create validates the draft, computes totals at the current rate and
// stores the invoice with its items.
func (s *Service) Create(ctx context.Context, who auth.Identity, d Draft) (*Invoice, error) {
	if who.Anonymous() {
		return nil, ErrPermission
	}
	now := s.timeSource.Now()
	d = withDefaults(d, now)

	if v := validateDraft(d); v != nil {
		return nil, s.fail("create", phaseValidating, &ValidationError{Violations: v})
	}

	rate, err := s.rateFor(ctx, d.ExchangeRate)
	if err != nil {
		return nil, s.fail("create", phaseComputing, err)
	}

	inv := &Invoice{
		ID:               s.idGenerator.Generate(),
		Number:           strings.TrimSpace(d.Number),
		Date:             d.Date,
		SenderName:       strings.TrimSpace(d.SenderName),
		SenderAddress:    strings.TrimSpace(d.SenderAddress),
		SenderTaxID:      strings.TrimSpace(d.SenderTaxID),
		RecipientName:    strings.TrimSpace(d.RecipientName),
		RecipientAddress: strings.TrimSpace(d.RecipientAddress),
		RecipientTaxID:   strings.TrimSpace(d.RecipientTaxID),
		RecipientPAN:     strings.TrimSpace(d.RecipientPAN),
		RecipientEmail:   strings.TrimSpace(d.RecipientEmail),
		RecipientPhone:   strings.TrimSpace(d.RecipientPhone),
		RecipientWebsite: strings.TrimSpace(d.RecipientWebsite),
		TaxRate:          d.TaxRate,
		Currency:         d.Currency,
		ExchangeRate:     rate,
		Notes:            d.Notes,
		UserID:           who.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	inv.setTotals(money.ComputeTotals(amountsOf(d.Items), d.TaxRate, rate))
	inv.Items = s.buildItems(inv.ID, d.Items, rate, now)

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.db.CreateInvoice(ctx, inv); err != nil {
		return nil, s.fail("create", phasePersisting, storeError("saving invoice", err))
	}
	saved, err := s.db.GetInvoice(ctx, inv.ID)
	if err != nil {
		return nil, s.fail("create", phasePersisting, storeError("reloading invoice", err))
	}
	return saved, nil
}

// Get returns the invoice with its items if who owns it.
func (s *Service) Get(ctx context.Context, who auth.Identity, id string) (*Invoice, error) {
	return s.owned(ctx, who, id)
}

// List returns the user's invoices, newest first. It never returns nil.
func (s *Service) List(ctx context.Context, who auth.Identity) ([]*Invoice, error) {
	if who.Anonymous() {
		return nil, ErrPermission
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	invoices, err := s.db.ListInvoices(ctx, who.UserID)
	if err != nil {
		return nil, storeError("listing invoices", err)
	}
	if invoices == nil {
		invoices = []*Invoice{}
	}
	return invoices, nil
}

// Delete removes an invoice and its items. Deleting twice yields ErrNotFound.
func (s *Service) Delete(ctx context.Context, who auth.Identity, id string) error {
	if _, err := s.owned(ctx, who, id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.db.DeleteInvoice(ctx, id); err != nil {
		return s.fail("delete", phasePersisting, storeError("deleting invoice", err))
	}
	return nil
}

// Update applies the patch. Totals are recomputed when the items, tax rate
// or exchange rate change. Changing items freezes a fresh exchange rate
// unless the patch supplies one.
func (s *Service) Update(ctx context.Context, who auth.Identity, id string, p Patch) (*Invoice, error) {
	inv, err := s.owned(ctx, who, id)
	if err != nil {
		return nil, err
	}
	now := s.timeSource.Now()

	applyPatch(inv, p)

	drafts := draftItemsOf(inv.Items)
	replaceItems := p.Items != nil || p.ExchangeRate != nil
	if p.Items != nil {
		drafts = p.Items
	}

	check := draftOf(inv, drafts)
	if p.ExchangeRate != nil {
		check.ExchangeRate = *p.ExchangeRate
	}
	if v := validateDraft(check); v != nil {
		return nil, s.fail("update", phaseValidating, &ValidationError{Violations: v})
	}

	if replaceItems || p.TaxRate != nil {
		rate := inv.ExchangeRate
		if replaceItems {
			var supplied decimal.Decimal
			if p.ExchangeRate != nil {
				supplied = *p.ExchangeRate
			}
			if rate, err = s.rateFor(ctx, supplied); err != nil {
				return nil, s.fail("update", phaseComputing, err)
			}
		}
		inv.ExchangeRate = rate
		inv.setTotals(money.ComputeTotals(amountsOf(drafts), inv.TaxRate, rate))
	}
	inv.UpdatedAt = now

	var items []*Item
	if replaceItems {
		items = s.buildItems(inv.ID, drafts, inv.ExchangeRate, now)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.db.UpdateInvoice(ctx, inv, items); err != nil {
		return nil, s.fail("update", phasePersisting, storeError("updating invoice", err))
	}
	saved, err := s.db.GetInvoice(ctx, inv.ID)
	if err != nil {
		return nil, s.fail("update", phasePersisting, storeError("reloading invoice", err))
	}
	return saved, nil
}

// Quote previews the totals of a draft without storing anything.
func (s *Service) Quote(ctx context.Context, d Draft) (money.Totals, decimal.Decimal, error) {
	v := make(map[string]string)
	validateRates(v, d.TaxRate, d.ExchangeRate)
	if len(v) > 0 {
		return money.Totals{}, decimal.Zero, &ValidationError{Violations: v}
	}

	rate, err := s.rateFor(ctx, d.ExchangeRate)
	if err != nil {
		return money.Totals{}, decimal.Zero, err
	}
	return money.ComputeTotals(amountsOf(d.Items), d.TaxRate, rate), rate, nil
}

// ExchangeRate returns the rate a new invoice would be saved with.
func (s *Service) ExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	return s.rateFor(ctx, decimal.Zero)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.db.Ping(ctx)
}

// owned loads an invoice and checks who may see it.
func (s *Service) owned(ctx context.Context, who auth.Identity, id string) (*Invoice, error) {
	if who.Anonymous() {
		return nil, ErrPermission
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	inv, err := s.db.GetInvoice(ctx, id)
	if err != nil {
		return nil, storeError("getting invoice", err)
	}
	if inv.UserID != who.UserID {
		slog.Warn("Invoice access denied", "invoice_id", id, "user_id", who.UserID)
		return nil, ErrPermission
	}
	return inv, nil
}

// rateFor returns supplied when positive, otherwise asks the rate source.
func (s *Service) rateFor(ctx context.Context, supplied decimal.Decimal) (decimal.Decimal, error) {
	if supplied.IsPositive() {
		return supplied, nil
	}
	rate, err := s.rates.Rate(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching exchange rate: %w: %w", ErrRateUnavailable, err)
	}
	if rateViolation(decimal.Zero, rate) != nil {
		return decimal.Zero, fmt.Errorf("%w: source returned %s", ErrRateUnavailable, rate)
	}
	return rate, nil
}

func (s *Service) buildItems(invoiceID string, drafts []DraftItem, rate decimal.Decimal, now time.Time) []*Item {
	items := make([]*Item, len(drafts))
	for i, d := range drafts {
		items[i] = &Item{
			ID:          s.idGenerator.Generate(),
			InvoiceID:   invoiceID,
			Position:    i,
			Name:        strings.TrimSpace(d.Name),
			Description: strings.TrimSpace(d.Description),
			AmountUSD:   d.AmountUSD,
			AmountINR:   money.ToINR(d.AmountUSD, rate),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return items
}

func (s *Service) fail(op string, p phase, err error) error {
	slog.Error("Invoice workflow failed", "op", op, "phase", p, "error", err)
	return err
}

// withDefaults fills the values the create form would prefill.
func withDefaults(d Draft, now time.Time) Draft {
	if strings.TrimSpace(d.Number) == "" {
		d.Number = DefaultNumber(now)
	}
	if d.Date.IsZero() {
		d.Date = now
	}
	d.Date = time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), 0, 0, 0, 0, time.UTC)
	if d.Currency == "" {
		d.Currency = money.USD
	}
	return d
}

// DefaultNumber is the suggested invoice number for a day.
func DefaultNumber(day time.Time) string {
	return "INV-" + day.Format("20060102") + "-001"
}

func applyPatch(inv *Invoice, p Patch) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&inv.Number, p.Number)
	setString(&inv.SenderName, p.SenderName)
	setString(&inv.SenderAddress, p.SenderAddress)
	setString(&inv.SenderTaxID, p.SenderTaxID)
	setString(&inv.RecipientName, p.RecipientName)
	setString(&inv.RecipientAddress, p.RecipientAddress)
	setString(&inv.RecipientTaxID, p.RecipientTaxID)
	setString(&inv.RecipientPAN, p.RecipientPAN)
	setString(&inv.RecipientEmail, p.RecipientEmail)
	setString(&inv.RecipientPhone, p.RecipientPhone)
	setString(&inv.RecipientWebsite, p.RecipientWebsite)
	if p.Notes != nil {
		inv.Notes = *p.Notes
	}
	if p.Date != nil {
		inv.Date = time.Date(p.Date.Year(), p.Date.Month(), p.Date.Day(), 0, 0, 0, 0, time.UTC)
	}
	if p.TaxRate != nil {
		inv.TaxRate = *p.TaxRate
	}
	if p.Currency != nil {
		inv.Currency = *p.Currency
	}
}

// draftOf re-expresses a stored invoice as a draft so it can be validated.
func draftOf(inv *Invoice, items []DraftItem) Draft {
	return Draft{
		Number:           inv.Number,
		Date:             inv.Date,
		SenderName:       inv.SenderName,
		SenderAddress:    inv.SenderAddress,
		RecipientName:    inv.RecipientName,
		RecipientAddress: inv.RecipientAddress,
		TaxRate:          inv.TaxRate,
		Currency:         inv.Currency,
		Notes:            inv.Notes,
		Items:            items,
	}
}
