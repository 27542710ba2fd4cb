package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/itemscan"
	"github.com/zombor/invoice-tracker/internal/money"
)

// mockUserStore is an in-memory auth.UserStore
type mockUserStore struct {
	mu    sync.Mutex
	users map[string]*auth.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]*auth.User)}
}

func (m *mockUserStore) CreateUser(ctx context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return auth.ErrEmailTaken
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) GetUser(ctx context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// mockScanner returns canned line items
type mockScanner struct {
	items       []itemscan.LineItem
	err         error
	contentType string
}

func (m *mockScanner) ScanItems(ctx context.Context, data []byte, contentType string) ([]itemscan.LineItem, error) {
	m.contentType = contentType
	return m.items, m.err
}

func (m *mockScanner) Close() error {
	return nil
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		rates       *mockRates
		users       *mockUserStore
		accounts    *auth.Service
		sessions    *auth.Sessions
		scanner     itemscan.Scanner
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
		client      *http.Client
		alice       *auth.User
		bob         *auth.User
		cookie      *http.Cookie
	)

	userIDs := 0
	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, rates, time.Second, &mockIDGenerator{}, &mockTimeSource{now: time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, accounts, sessions, scanner, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PATCH", "DELETE"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile("^/"), server.ServeHTTP)
		}
	}

	sessionFor := func(userID string) *http.Cookie {
		rec := httptest.NewRecorder()
		sessions.Issue(rec, userID)
		return rec.Result().Cookies()[0]
	}

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if cookie != nil {
			req.AddCookie(cookie)
		}
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		return do("GET", path, nil, "")
	}

	postJSON := func(method, path string, v any) *http.Response {
		body, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return do(method, path, bytes.NewReader(body), "application/json")
	}

	postForm := func(path string, form url.Values) *http.Response {
		return do("POST", path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	}

	readBody := func(resp *http.Response) string {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	stored := func(id, userID string) *Invoice {
		inv := &Invoice{
			ID:               id,
			Number:           "INV-" + id,
			Date:             time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			SenderName:       "Acme Consulting",
			SenderAddress:    "1 Main St",
			RecipientName:    "Globex India",
			RecipientAddress: "Bengaluru",
			TaxRate:          dec("18"),
			Currency:         money.USD,
			ExchangeRate:     dec("82"),
			UserID:           userID,
			CreatedAt:        time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		}
		inv.setTotals(money.ComputeTotals([]decimal.Decimal{dec("100")}, inv.TaxRate, inv.ExchangeRate))
		db.invoices[id] = inv
		db.items[id] = []*Item{{ID: id + "-item", InvoiceID: id, Name: "Design", AmountUSD: dec("100"), AmountINR: dec("8200")}}
		return inv
	}

	validDraft := func() map[string]any {
		return map[string]any{
			"invoice_number":    "INV-42",
			"invoice_date":      "2024-05-01",
			"sender_name":       "Acme Consulting",
			"sender_address":    "1 Main St",
			"recipient_name":    "Globex India",
			"recipient_address": "Bengaluru",
			"tax_rate":          "18",
			"currency":          "INR",
			"items": []map[string]any{
				{"name": "Design", "amount_usd": "100"},
			},
		}
	}

	BeforeEach(func() {
		db = newMockDB()
		rates = &mockRates{rate: dec("82")}
		users = newMockUserStore()
		accounts = auth.NewServiceWithDeps(users, bcrypt.MinCost, time.Now, func() string {
			userIDs++
			return fmt.Sprintf("user-%d", userIDs)
		})
		sessions = auth.NewSessions("test-secret", false)
		scanner = nil
		client = &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}}

		var err error
		alice, err = accounts.Register(context.Background(), "alice@example.com", "password1", "Alice")
		Expect(err).NotTo(HaveOccurred())
		bob, err = accounts.Register(context.Background(), "bob@example.com", "password2", "Bob")
		Expect(err).NotTo(HaveOccurred())
		cookie = sessionFor(alice.ID)

		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("authentication", func() {
		When("no session is present", func() {
			BeforeEach(func() {
				cookie = nil
			})

			It("redirects HTML pages to the login form", func() {
				resp := get("/dashboard")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(resp.Header.Get("Location")).To(Equal("/login"))
			})

			It("answers API requests with 401", func() {
				resp := get("/api/invoices")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(readBody(resp)).To(ContainSubstring("unauthorized"))
			})

			It("serves the login page", func() {
				resp := get("/login")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(readBody(resp)).To(ContainSubstring("Create an account"))
			})
		})

		When("the session cookie is tampered with", func() {
			BeforeEach(func() {
				cookie = sessionFor(alice.ID)
				cookie.Value = strings.Replace(cookie.Value, alice.ID, bob.ID, 1)
			})

			It("treats the request as anonymous", func() {
				resp := get("/api/me")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		Describe("POST /login", func() {
			BeforeEach(func() {
				cookie = nil
			})

			It("issues a session for valid credentials", func() {
				resp := postForm("/login", url.Values{"email": {"alice@example.com"}, "password": {"password1"}})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(resp.Header.Get("Location")).To(Equal("/dashboard"))
				Expect(resp.Cookies()).To(ContainElement(HaveField("Name", "session")))
			})

			It("returns to the login page with an error for a wrong password", func() {
				resp := postForm("/login", url.Values{"email": {"alice@example.com"}, "password": {"nope"}})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(resp.Header.Get("Location")).To(HavePrefix("/login?error="))
				Expect(resp.Cookies()).To(BeEmpty())
			})
		})

		Describe("POST /register", func() {
			BeforeEach(func() {
				cookie = nil
			})

			It("creates the account and signs it in", func() {
				resp := postForm("/register", url.Values{"email": {"carol@example.com"}, "password": {"secret99"}, "name": {"Carol"}})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(resp.Header.Get("Location")).To(HavePrefix("/dashboard?notice="))
				Expect(resp.Cookies()).To(ContainElement(HaveField("Name", "session")))
			})

			It("rejects an email that is already registered", func() {
				resp := postForm("/register", url.Values{"email": {"alice@example.com"}, "password": {"secret99"}})
				resp.Body.Close()
				Expect(resp.Header.Get("Location")).To(HavePrefix("/login?error="))
			})
		})

		Describe("POST /logout", func() {
			It("clears the session cookie", func() {
				resp := do("POST", "/logout", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(resp.Cookies()).To(ContainElement(And(HaveField("Name", "session"), HaveField("MaxAge", -1))))
			})
		})
	})

	Describe("GET /healthz", func() {
		It("reports ok when the store answers", func() {
			resp := get("/healthz")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring(`"ok"`))
		})

		When("the store is down", func() {
			BeforeEach(func() {
				db.pingErr = errStore
			})

			It("returns 503", func() {
				resp := get("/healthz")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})
	})

	Describe("JSON API", func() {
		Describe("POST /api/invoices", func() {
			It("creates the invoice with computed totals", func() {
				resp := postJSON("POST", "/api/invoices", validDraft())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var inv Invoice
				decode(resp, &inv)
				Expect(inv.UserID).To(Equal(alice.ID))
				Expect(inv.Date).To(BeTemporally("==", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
				Expect(inv.TotalUSD).To(equalDecimal("118"))
				Expect(inv.TotalINR).To(equalDecimal("9676"))
				Expect(inv.Items).To(HaveLen(1))
			})

			It("reports each violated field", func() {
				draft := validDraft()
				draft["sender_name"] = ""
				draft["items"] = []map[string]any{}
				resp := postJSON("POST", "/api/invoices", draft)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body struct {
					Error   string            `json:"error"`
					Details map[string]string `json:"details"`
				}
				decode(resp, &body)
				Expect(body.Error).To(Equal("validation_failed"))
				Expect(body.Details).To(HaveKey("sender_name"))
				Expect(body.Details).To(HaveKey("items"))
				Expect(db.writes).To(BeZero())
			})

			It("rejects a malformed date", func() {
				draft := validDraft()
				draft["invoice_date"] = "01/05/2024"
				resp := postJSON("POST", "/api/invoices", draft)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("invoice_date"))
			})

			It("rejects a body that is not JSON", func() {
				resp := do("POST", "/api/invoices", strings.NewReader("{"), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("invalid JSON body"))
			})

			When("the store fails", func() {
				BeforeEach(func() {
					db.createErr = errStore
				})

				It("returns 500 without leaking the cause", func() {
					resp := postJSON("POST", "/api/invoices", validDraft())
					Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
					Expect(readBody(resp)).NotTo(ContainSubstring("connection refused"))
				})
			})

			When("the rate source fails", func() {
				BeforeEach(func() {
					rates.err = errors.New("feed down")
				})

				It("returns 503 without writing", func() {
					resp := postJSON("POST", "/api/invoices", validDraft())
					Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
					Expect(readBody(resp)).To(ContainSubstring("exchange_rate_unavailable"))
					Expect(db.writes).To(BeZero())
				})

				It("still creates the invoice when the draft carries a rate", func() {
					draft := validDraft()
					draft["exchange_rate"] = "83.5"
					resp := postJSON("POST", "/api/invoices", draft)
					resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				})
			})
		})

		Describe("GET /api/invoices", func() {
			BeforeEach(func() {
				stored("a1", alice.ID)
				stored("b1", bob.ID)
			})

			It("returns only the caller's invoices", func() {
				resp := get("/api/invoices")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var invoices []*Invoice
				decode(resp, &invoices)
				Expect(invoices).To(HaveLen(1))
				Expect(invoices[0].ID).To(Equal("a1"))
			})

			When("the caller has no invoices", func() {
				BeforeEach(func() {
					cookie = sessionFor(bob.ID)
					delete(db.invoices, "b1")
				})

				It("returns an empty array", func() {
					resp := get("/api/invoices")
					Expect(strings.TrimSpace(readBody(resp))).To(Equal("[]"))
				})
			})
		})

		Describe("GET /api/invoices/{id}", func() {
			BeforeEach(func() {
				stored("a1", alice.ID)
				stored("b1", bob.ID)
			})

			It("returns the invoice with its items", func() {
				resp := get("/api/invoices/a1")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var inv Invoice
				decode(resp, &inv)
				Expect(inv.Number).To(Equal("INV-a1"))
				Expect(inv.Items).To(HaveLen(1))
			})

			It("returns 403 for another user's invoice", func() {
				resp := get("/api/invoices/b1")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			})

			It("returns 404 for an unknown id", func() {
				resp := get("/api/invoices/missing")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("PATCH /api/invoices/{id}", func() {
			BeforeEach(func() {
				stored("a1", alice.ID)
			})

			It("replaces the items and recomputes totals", func() {
				resp := postJSON("PATCH", "/api/invoices/a1", map[string]any{
					"items": []map[string]any{
						{"name": "Build", "amount_usd": "200"},
						{"name": "Support", "amount_usd": "50"},
					},
				})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var inv Invoice
				decode(resp, &inv)
				Expect(inv.SubtotalUSD).To(equalDecimal("250"))
				Expect(inv.Items).To(HaveLen(2))
				Expect(inv.Items[0].ID).NotTo(Equal("a1-item"))
			})

			It("changes only the named fields", func() {
				resp := postJSON("PATCH", "/api/invoices/a1", map[string]any{"notes": "Net 30"})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var inv Invoice
				decode(resp, &inv)
				Expect(inv.Notes).To(Equal("Net 30"))
				Expect(inv.TotalUSD).To(equalDecimal("118"))
			})

			It("returns 403 for another user", func() {
				cookie = sessionFor(bob.ID)
				resp := postJSON("PATCH", "/api/invoices/a1", map[string]any{"notes": "mine now"})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
				Expect(db.invoices["a1"].Notes).To(BeEmpty())
			})
		})

		Describe("DELETE /api/invoices/{id}", func() {
			BeforeEach(func() {
				stored("a1", alice.ID)
			})

			It("deletes the invoice", func() {
				resp := do("DELETE", "/api/invoices/a1", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(db.invoices).NotTo(HaveKey("a1"))
			})

			It("leaves another user's invoice alone", func() {
				cookie = sessionFor(bob.ID)
				resp := do("DELETE", "/api/invoices/a1", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
				Expect(db.invoices).To(HaveKey("a1"))
			})
		})

		Describe("POST /api/invoices/quote", func() {
			It("previews totals at the current rate", func() {
				resp := postJSON("POST", "/api/invoices/quote", map[string]any{
					"tax_rate": "18",
					"items":    []map[string]any{{"name": "Design", "amount_usd": "100"}},
				})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var quote struct {
					TotalINR     decimal.Decimal `json:"total_inr"`
					ExchangeRate decimal.Decimal `json:"exchange_rate"`
				}
				decode(resp, &quote)
				Expect(quote.TotalINR).To(equalDecimal("9676"))
				Expect(quote.ExchangeRate).To(equalDecimal("82"))
				Expect(db.writes).To(BeZero())
			})

			It("rejects a negative tax rate", func() {
				resp := postJSON("POST", "/api/invoices/quote", map[string]any{"tax_rate": "-1"})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("tax_rate"))
			})
		})

		Describe("GET /api/exchange-rate", func() {
			It("returns the current rate", func() {
				resp := get("/api/exchange-rate")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(readBody(resp)).To(ContainSubstring(`"exchange_rate":"82"`))
			})

			When("the rate source fails", func() {
				BeforeEach(func() {
					rates.err = errors.New("feed down")
				})

				It("returns 503", func() {
					resp := get("/api/exchange-rate")
					resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				})
			})
		})

		Describe("GET /api/me", func() {
			It("returns the signed-in identity", func() {
				resp := get("/api/me")
				var who auth.Identity
				decode(resp, &who)
				Expect(who.Email).To(Equal("alice@example.com"))
				Expect(who.Name).To(Equal("Alice"))
			})
		})

		Describe("POST /api/invoices/scan", func() {
			upload := func(filename string) *http.Response {
				var body bytes.Buffer
				mw := multipart.NewWriter(&body)
				part, err := mw.CreateFormFile("file", filename)
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write([]byte("%PDF-1.4 fake"))
				Expect(err).NotTo(HaveOccurred())
				Expect(mw.Close()).To(Succeed())
				return do("POST", "/api/invoices/scan", &body, mw.FormDataContentType())
			}

			When("no scanner is configured", func() {
				It("returns 503", func() {
					resp := upload("bill.pdf")
					resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				})
			})

			When("a scanner is configured", func() {
				var ms *mockScanner

				BeforeEach(func() {
					ms = &mockScanner{items: []itemscan.LineItem{{Name: "Hosting", AmountUSD: dec("20")}}}
					scanner = ms
					setupServer()
				})

				It("returns the scanned items", func() {
					resp := upload("bill.pdf")
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					Expect(readBody(resp)).To(ContainSubstring("Hosting"))
				})

				It("derives the content type from the file name", func() {
					resp := upload("bill.pdf")
					resp.Body.Close()
					Expect(ms.contentType).To(Equal("application/pdf"))
				})

				It("returns 502 when the scanner fails", func() {
					ms.err = errors.New("model unavailable")
					resp := upload("bill.pdf")
					resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				})
			})
		})
	})

	Describe("HTML views", func() {
		It("redirects / to the dashboard", func() {
			resp := get("/")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/dashboard"))
		})

		It("serves the stylesheet", func() {
			resp := get("/static/app.css")
			resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/css"))
		})

		Describe("GET /dashboard", func() {
			It("lists the caller's invoices with their totals", func() {
				stored("a1", alice.ID)
				resp := get("/dashboard")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := readBody(resp)
				Expect(body).To(ContainSubstring("INV-a1"))
				Expect(body).To(ContainSubstring("$118.00"))
			})

			It("invites the user to create a first invoice", func() {
				resp := get("/dashboard")
				Expect(readBody(resp)).To(ContainSubstring("No invoices yet"))
			})

			It("shows the notification from the query", func() {
				resp := get("/dashboard?error=" + url.QueryEscape("Could not delete"))
				Expect(readBody(resp)).To(ContainSubstring("Could not delete"))
			})

			When("the store fails", func() {
				BeforeEach(func() {
					db.listErr = errStore
				})

				It("shows an error page", func() {
					resp := get("/dashboard")
					Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
					Expect(readBody(resp)).To(ContainSubstring("Something went wrong"))
				})
			})
		})

		Describe("GET /invoices/new", func() {
			It("prefills the number, tax rate and exchange rate", func() {
				resp := get("/invoices/new")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := readBody(resp)
				Expect(body).To(ContainSubstring(`value="INV-`))
				Expect(body).To(ContainSubstring(`name="tax_rate" value="18"`))
				Expect(body).To(ContainSubstring(`name="exchange_rate" value="82"`))
			})
		})

		Describe("POST /invoices", func() {
			var form url.Values

			BeforeEach(func() {
				form = url.Values{
					"invoice_number":    {"INV-9"},
					"invoice_date":      {"2024-05-01"},
					"sender_name":       {"Acme Consulting"},
					"sender_address":    {"1 Main St"},
					"recipient_name":    {"Globex India"},
					"recipient_address": {"Bengaluru"},
					"tax_rate":          {"18"},
					"currency":          {"usd"},
					"item_name":         {"Design", "", ""},
					"item_description":  {"Landing page", "", ""},
					"item_amount_usd":   {"100", "", ""},
				}
			})

			It("creates the invoice and shows it", func() {
				resp := postForm("/invoices", form)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(resp.Header.Get("Location")).To(HavePrefix("/invoices/id-1?notice="))
				Expect(db.items["id-1"]).To(HaveLen(1))
				Expect(db.invoices["id-1"].Currency).To(Equal(money.USD))
			})

			It("re-renders the form with the violations", func() {
				form.Set("recipient_name", "")
				resp := postForm("/invoices", form)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				body := readBody(resp)
				Expect(body).To(ContainSubstring("is required"))
				Expect(body).To(ContainSubstring("Landing page"))
				Expect(db.writes).To(BeZero())
			})

			It("rejects an unreadable date", func() {
				form.Set("invoice_date", "yesterday")
				resp := postForm("/invoices", form)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("YYYY-MM-DD"))
			})

			It("shows a 503 page when the rate source fails", func() {
				rates.err = errors.New("feed down")
				resp := postForm("/invoices", form)
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				Expect(readBody(resp)).To(ContainSubstring("Exchange rate unavailable"))
				Expect(db.writes).To(BeZero())
			})
		})

		Describe("GET /invoices/{id}", func() {
			BeforeEach(func() {
				stored("a1", alice.ID)
				stored("b1", bob.ID)
			})

			It("shows the invoice in both currencies", func() {
				resp := get("/invoices/a1")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := readBody(resp)
				Expect(body).To(ContainSubstring("$118.00"))
				Expect(body).To(ContainSubstring("₹9676.00"))
			})

			It("forbids another user's invoice", func() {
				resp := get("/invoices/b1")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			})

			It("shows not found for an unknown id", func() {
				resp := get("/invoices/missing")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("GET /invoices/{id}/pdf", func() {
			It("downloads a PDF named after the invoice number", func() {
				stored("a1", alice.ID)
				resp := get("/invoices/a1/pdf")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring(`INV-a1.pdf`))
				Expect(readBody(resp)).To(HavePrefix("%PDF-"))
			})
		})

		Describe("POST /invoices/{id}/delete", func() {
			BeforeEach(func() {
				stored("a1", alice.ID)
			})

			It("deletes and returns to the dashboard with a notice", func() {
				resp := do("POST", "/invoices/a1/delete", nil, "")
				resp.Body.Close()
				Expect(resp.Header.Get("Location")).To(HavePrefix("/dashboard?notice="))
				Expect(db.invoices).NotTo(HaveKey("a1"))
			})

			It("reports a store failure as a notification", func() {
				db.deleteErr = errStore
				resp := do("POST", "/invoices/a1/delete", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(resp.Header.Get("Location")).To(HavePrefix("/dashboard?error="))
			})
		})
	})
})

var _ = Describe("draftFromForm", func() {
	It("skips blank item rows and keeps the order of the rest", func() {
		d, violations := draftFromForm(url.Values{
			"item_name":        {"A", "", "C"},
			"item_description": {"", "", "third"},
			"item_amount_usd":  {"1", "", "3.50"},
		})
		Expect(violations).To(BeNil())
		Expect(d.Items).To(HaveLen(2))
		Expect(d.Items[1].Name).To(Equal("C"))
		Expect(d.Items[1].AmountUSD).To(equalDecimal("3.5"))
	})

	It("keeps a row that only has an amount so validation can flag it", func() {
		d, _ := draftFromForm(url.Values{"item_amount_usd": {"5"}})
		Expect(d.Items).To(HaveLen(1))
		Expect(d.Items[0].Name).To(BeEmpty())
	})
})
