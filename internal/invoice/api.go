package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/itemscan"
	"github.com/zombor/invoice-tracker/internal/money"
)

const (
	maxBodySize   = 1 << 20
	maxUploadSize = 20 << 20
)

// draftRequest is the JSON body of a create or quote request.
type draftRequest struct {
	Draft
	Date string `json:"invoice_date"`
}

func (req draftRequest) draft() (Draft, error) {
	d := req.Draft
	if strings.TrimSpace(req.Date) == "" {
		return d, nil
	}
	date, err := time.Parse(DateLayout, strings.TrimSpace(req.Date))
	if err != nil {
		return d, badDate()
	}
	d.Date = date
	return d, nil
}

// patchRequest is the JSON body of an update. Absent fields are unchanged.
type patchRequest struct {
	Number           *string          `json:"invoice_number"`
	Date             *string          `json:"invoice_date"`
	SenderName       *string          `json:"sender_name"`
	SenderAddress    *string          `json:"sender_address"`
	SenderTaxID      *string          `json:"sender_gstin"`
	RecipientName    *string          `json:"recipient_name"`
	RecipientAddress *string          `json:"recipient_address"`
	RecipientTaxID   *string          `json:"recipient_gstin"`
	RecipientPAN     *string          `json:"recipient_pan"`
	RecipientEmail   *string          `json:"recipient_email"`
	RecipientPhone   *string          `json:"recipient_phone"`
	RecipientWebsite *string          `json:"recipient_website"`
	TaxRate          *decimal.Decimal `json:"tax_rate"`
	Currency         *money.Currency  `json:"currency"`
	ExchangeRate     *decimal.Decimal `json:"exchange_rate"`
	Notes            *string          `json:"notes"`
	Items            []DraftItem      `json:"items"`
}

func (req patchRequest) patch() (Patch, error) {
	p := Patch{
		Number:           req.Number,
		SenderName:       req.SenderName,
		SenderAddress:    req.SenderAddress,
		SenderTaxID:      req.SenderTaxID,
		RecipientName:    req.RecipientName,
		RecipientAddress: req.RecipientAddress,
		RecipientTaxID:   req.RecipientTaxID,
		RecipientPAN:     req.RecipientPAN,
		RecipientEmail:   req.RecipientEmail,
		RecipientPhone:   req.RecipientPhone,
		RecipientWebsite: req.RecipientWebsite,
		TaxRate:          req.TaxRate,
		Currency:         req.Currency,
		ExchangeRate:     req.ExchangeRate,
		Notes:            req.Notes,
		Items:            req.Items,
	}
	if req.Date != nil {
		date, err := time.Parse(DateLayout, strings.TrimSpace(*req.Date))
		if err != nil {
			return p, badDate()
		}
		p.Date = &date
	}
	return p, nil
}

func badDate() error {
	return &ValidationError{Violations: map[string]string{"invoice_date": "must be a date in YYYY-MM-DD form"}}
}

// quoteResponse previews the totals of a draft.
type quoteResponse struct {
	money.Totals
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// handleAPIListInvoices returns the caller's invoices, newest first
func (s *Server) handleAPIListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.List(r.Context(), identity(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// handleAPICreateInvoice creates an invoice from a JSON draft
func (s *Server) handleAPICreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := req.draft()
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := s.service.Create(r.Context(), identity(r), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// handleAPIGetInvoice returns one invoice with its items
func (s *Server) handleAPIGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.Get(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleAPIUpdateInvoice applies a partial update
func (s *Server) handleAPIUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.patch()
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := s.service.Update(r.Context(), identity(r), r.PathValue("id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleAPIDeleteInvoice deletes an invoice and its items
func (s *Server) handleAPIDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), identity(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAPIQuote previews totals without saving
func (s *Server) handleAPIQuote(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	totals, rate, err := s.service.Quote(r.Context(), req.Draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Totals: totals, ExchangeRate: rate})
}

// handleAPIScan reads line items from an uploaded bill
func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "item scanning is not configured"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected a multipart upload of at most 20MB"})
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read the upload"})
		return
	}

	items, err := s.scanner.ScanItems(r.Context(), data, contentTypeOf(header.Header.Get("Content-Type"), header.Filename))
	if err != nil {
		slog.Error("Error scanning items", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "could not read line items from the document"})
		return
	}
	if items == nil {
		items = []itemscan.LineItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleAPIExchangeRate returns the rate a new invoice would use
func (s *Server) handleAPIExchangeRate(w http.ResponseWriter, r *http.Request) {
	rate, err := s.service.ExchangeRate(r.Context())
	if err != nil {
		slog.Error("Error fetching exchange rate", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "exchange rate unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"exchange_rate": rate})
}

// handleAPIMe returns the signed-in identity
func (s *Server) handleAPIMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identity(r))
}

// contentTypeOf falls back to the file extension when the upload carries
// no content type.
func contentTypeOf(declared, filename string) string {
	if ct := strings.ToLower(strings.TrimSpace(declared)); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps workflow errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation_failed", "details": verr.Violations})
	case errors.Is(err, ErrPermission):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, ErrRateUnavailable):
		slog.Error("Error fetching exchange rate", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "exchange_rate_unavailable"})
	default:
		slog.Error("Error handling API request", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}
