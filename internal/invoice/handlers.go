package invoice

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/money"
)

const defaultTaxRate = 18

// redirectWith sends the browser to path with a notification in the query.
func redirectWith(w http.ResponseWriter, r *http.Request, path, key, message string) {
	http.Redirect(w, r, path+"?"+key+"="+url.QueryEscape(message), http.StatusSeeOther)
}

// identity is only called behind auth.RequireAuth.
func identity(r *http.Request) auth.Identity {
	who, _ := auth.FromContext(r.Context())
	return who
}

// handleLoginPage shows the sign-in and registration forms
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.FromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login", pageData{Title: "Sign in"})
}

// handleLogin signs a user in
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWith(w, r, "/login", "error", "Could not read the form")
		return
	}
	user, err := s.accounts.SignIn(r.Context(), r.PostForm.Get("email"), r.PostForm.Get("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Error("Error signing in", "error", err)
			redirectWith(w, r, "/login", "error", "Sign in is unavailable, please try again")
			return
		}
		redirectWith(w, r, "/login", "error", "Invalid email or password")
		return
	}
	s.sessions.Issue(w, user.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleRegister creates an account and signs it in
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWith(w, r, "/login", "error", "Could not read the form")
		return
	}
	f := r.PostForm
	user, err := s.accounts.Register(r.Context(), f.Get("email"), f.Get("password"), f.Get("name"))
	switch {
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		redirectWith(w, r, "/login", "error", err.Error())
		return
	case err != nil:
		slog.Error("Error registering user", "error", err)
		redirectWith(w, r, "/login", "error", "Registration is unavailable, please try again")
		return
	}
	s.sessions.Issue(w, user.ID)
	redirectWith(w, r, "/dashboard", "notice", "Welcome, "+user.Name)
}

// handleLogout clears the session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	redirectWith(w, r, "/login", "notice", "Signed out")
}

// handleRoot sends visitors to the dashboard
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleDashboard lists the caller's invoices
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.List(r.Context(), identity(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "dashboard", pageData{Title: "Invoices", Data: invoices})
}

// handleNewInvoice shows the create form with defaults filled in
func (s *Server) handleNewInvoice(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	rate, err := s.service.ExchangeRate(r.Context())
	if err != nil {
		slog.Warn("Exchange rate unavailable for form", "error", err)
		rate = decimal.Zero
	}
	d := Draft{
		Number:   DefaultNumber(now),
		Date:     now,
		TaxRate:  decimal.NewFromInt(defaultTaxRate),
		Currency: money.USD,
	}
	s.render(w, r, http.StatusOK, "form", pageData{Title: "New invoice", Data: newFormView(d, rate, nil)})
}

// handleCreateInvoice stores a submitted form
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWith(w, r, "/invoices/new", "error", "Could not read the form")
		return
	}
	d, violations := draftFromForm(r.PostForm)
	if violations != nil {
		s.render(w, r, http.StatusBadRequest, "form", pageData{
			Title: "New invoice",
			Error: "Please fix the highlighted fields",
			Data:  newFormView(d, d.ExchangeRate, violations),
		})
		return
	}

	inv, err := s.service.Create(r.Context(), identity(r), d)
	var verr *ValidationError
	if errors.As(err, &verr) {
		s.render(w, r, http.StatusBadRequest, "form", pageData{
			Title: "New invoice",
			Error: "Please fix the highlighted fields",
			Data:  newFormView(d, d.ExchangeRate, verr.Violations),
		})
		return
	}
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	redirectWith(w, r, "/invoices/"+inv.ID, "notice", "Invoice "+inv.Number+" created")
}

// handleShowInvoice shows one invoice
func (s *Server) handleShowInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.Get(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "detail", pageData{Title: "Invoice " + inv.Number, Data: inv})
}

// handleDeleteInvoice deletes an invoice and returns to the dashboard
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	err := s.service.Delete(r.Context(), identity(r), r.PathValue("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		redirectWith(w, r, "/dashboard", "error", "Invoice not found")
	case errors.Is(err, ErrPermission):
		redirectWith(w, r, "/dashboard", "error", "You cannot delete this invoice")
	case err != nil:
		slog.Error("Error deleting invoice", "error", err)
		redirectWith(w, r, "/dashboard", "error", "Could not delete the invoice, please try again")
	default:
		redirectWith(w, r, "/dashboard", "notice", "Invoice deleted")
	}
}

// handleInvoicePDF downloads an invoice as PDF
func (s *Server) handleInvoicePDF(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.Get(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	data, err := RenderPDF(inv)
	if err != nil {
		s.renderError(w, r, fmt.Errorf("rendering pdf: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pdfFilename(inv)))
	w.Write(data)
}

// renderError shows a workflow failure as an error page.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		s.render(w, r, http.StatusNotFound, "error", pageData{Title: "Not found", Data: "That invoice does not exist."})
	case errors.Is(err, ErrPermission):
		s.render(w, r, http.StatusForbidden, "error", pageData{Title: "Forbidden", Data: "That invoice belongs to another account."})
	case errors.As(err, &verr):
		s.render(w, r, http.StatusBadRequest, "error", pageData{Title: "Invalid request", Data: verr.Error()})
	case errors.Is(err, ErrRateUnavailable):
		slog.Error("Error fetching exchange rate", "path", r.URL.Path, "error", err)
		s.render(w, r, http.StatusServiceUnavailable, "error", pageData{Title: "Exchange rate unavailable", Data: "Enter an exchange rate or try again in a moment."})
	default:
		slog.Error("Error handling request", "path", r.URL.Path, "error", err)
		s.render(w, r, http.StatusInternalServerError, "error", pageData{Title: "Something went wrong", Data: "Please try again in a moment."})
	}
}

func pdfFilename(inv *Invoice) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '"' || r < ' ' {
			return '-'
		}
		return r
	}, inv.Number)
	if name == "" {
		name = inv.ID
	}
	return name + ".pdf"
}

// draftFromForm reads the create form. Item rows come as parallel
// item_name, item_description and item_amount_usd values; fully blank rows
// are skipped.
func draftFromForm(f url.Values) (Draft, map[string]string) {
	d := Draft{
		Number:           f.Get("invoice_number"),
		SenderName:       f.Get("sender_name"),
		SenderAddress:    f.Get("sender_address"),
		SenderTaxID:      f.Get("sender_gstin"),
		RecipientName:    f.Get("recipient_name"),
		RecipientAddress: f.Get("recipient_address"),
		RecipientTaxID:   f.Get("recipient_gstin"),
		RecipientPAN:     f.Get("recipient_pan"),
		RecipientEmail:   f.Get("recipient_email"),
		RecipientPhone:   f.Get("recipient_phone"),
		RecipientWebsite: f.Get("recipient_website"),
		TaxRate:          money.ParseAmount(f.Get("tax_rate")),
		Currency:         money.Currency(strings.ToUpper(strings.TrimSpace(f.Get("currency")))),
		ExchangeRate:     money.ParseAmount(f.Get("exchange_rate")),
		Notes:            f.Get("notes"),
	}

	names := f["item_name"]
	descriptions := f["item_description"]
	amounts := f["item_amount_usd"]
	for i := range max(len(names), len(descriptions), len(amounts)) {
		it := DraftItem{
			Name:        at(names, i),
			Description: at(descriptions, i),
			AmountUSD:   money.ParseAmount(at(amounts, i)),
		}
		if strings.TrimSpace(it.Name) == "" && strings.TrimSpace(it.Description) == "" && strings.TrimSpace(at(amounts, i)) == "" {
			continue
		}
		d.Items = append(d.Items, it)
	}

	raw := strings.TrimSpace(f.Get("invoice_date"))
	if raw == "" {
		return d, nil
	}
	date, err := time.Parse(DateLayout, raw)
	if err != nil {
		return d, map[string]string{"invoice_date": "must be a date in YYYY-MM-DD form"}
	}
	d.Date = date
	return d, nil
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
