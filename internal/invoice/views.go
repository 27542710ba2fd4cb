package invoice

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/money"
)

//go:embed static/templates/*.html
var templatesFS embed.FS

//go:embed static/app.css
var appCSS []byte

// formRows is how many item rows the create form offers.
const formRows = 5

var pageFuncs = template.FuncMap{
	"usd": func(d decimal.Decimal) string { return money.Format(d, money.USD) },
	"inr": func(d decimal.Decimal) string { return money.Format(d, money.INR) },
	"date": func(t time.Time) string {
		return t.Format(DateLayout)
	},
	// total shows an invoice's total in its display currency.
	"total": func(inv *Invoice) string {
		if inv.Currency == money.INR {
			return money.Format(inv.TotalINR, money.INR)
		}
		return money.Format(inv.TotalUSD, money.USD)
	},
}

var pages = parsePages("login", "dashboard", "form", "detail", "error")

// parsePages pairs each page template with the shared layout.
func parsePages(names ...string) map[string]*template.Template {
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		out[name] = template.Must(template.New(name).Funcs(pageFuncs).ParseFS(templatesFS,
			"static/templates/layout.html",
			"static/templates/"+name+".html",
		))
	}
	return out
}

// pageData is what the layout renders around every page.
type pageData struct {
	Title    string
	User     auth.Identity
	SignedIn bool
	Error    string
	Notice   string
	Data     any
}

// formView backs the create form, including a rejected submission.
type formView struct {
	Draft      Draft
	Date       string
	Rate       decimal.Decimal
	Items      []DraftItem
	Violations map[string]string
}

// newFormView pads the submitted items with blank rows.
func newFormView(d Draft, rate decimal.Decimal, violations map[string]string) formView {
	items := append([]DraftItem{}, d.Items...)
	for len(items) < formRows {
		items = append(items, DraftItem{})
	}
	if violations == nil {
		violations = map[string]string{}
	}
	date := ""
	if !d.Date.IsZero() {
		date = d.Date.Format(DateLayout)
	}
	return formView{Draft: d, Date: date, Rate: rate, Items: items, Violations: violations}
}

// render executes a page inside the layout. Error and notice fall back to
// the ?error= and ?notice= query parameters.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	data.User, data.SignedIn = auth.FromContext(r.Context())
	q := r.URL.Query()
	if data.Error == "" {
		data.Error = q.Get("error")
	}
	if data.Notice == "" {
		data.Notice = q.Get("notice")
	}

	var buf bytes.Buffer
	if err := pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("Error rendering page", "page", page, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("Error writing response", "error", err)
	}
}

// handleStaticCSS serves the stylesheet
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(appCSS)
}
