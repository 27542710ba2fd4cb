package invoice

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/itemscan"
)

// Server handles HTTP requests for invoices and accounts
type Server struct {
	service  *Service
	accounts *auth.Service
	sessions *auth.Sessions
	scanner  itemscan.Scanner
	mux      *http.ServeMux
	handler  http.Handler
	http     *http.Server
}

// NewServer creates a new Server with default mux. scanner may be nil, in
// which case item scanning answers 503.
func NewServer(service *Service, accounts *auth.Service, sessions *auth.Sessions, scanner itemscan.Scanner) *Server {
	return NewServerWithMux(service, accounts, sessions, scanner, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, accounts *auth.Service, sessions *auth.Sessions, scanner itemscan.Scanner, mux *http.ServeMux) *Server {
	s := &Server{
		service:  service,
		accounts: accounts,
		sessions: sessions,
		scanner:  scanner,
		mux:      mux,
	}
	s.registerRoutes()
	s.handler = auth.Middleware(sessions, accounts)(mux)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.handleStaticCSS)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Accounts
	s.mux.HandleFunc("GET /login", s.handleLoginPage)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("POST /register", s.handleRegister)
	s.mux.HandleFunc("POST /logout", s.handleLogout)

	// HTML interface
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /dashboard", auth.RequireAuth(s.handleDashboard))
	s.mux.HandleFunc("GET /invoices/new", auth.RequireAuth(s.handleNewInvoice))
	s.mux.HandleFunc("POST /invoices", auth.RequireAuth(s.handleCreateInvoice))
	s.mux.HandleFunc("GET /invoices/{id}", auth.RequireAuth(s.handleShowInvoice))
	s.mux.HandleFunc("POST /invoices/{id}/delete", auth.RequireAuth(s.handleDeleteInvoice))
	s.mux.HandleFunc("GET /invoices/{id}/pdf", auth.RequireAuth(s.handleInvoicePDF))

	// API endpoints
	s.mux.HandleFunc("POST /api/invoices/quote", auth.RequireAuth(s.handleAPIQuote))
	s.mux.HandleFunc("POST /api/invoices/scan", auth.RequireAuth(s.handleAPIScan))
	s.mux.HandleFunc("GET /api/invoices/{id}", auth.RequireAuth(s.handleAPIGetInvoice))
	s.mux.HandleFunc("PATCH /api/invoices/{id}", auth.RequireAuth(s.handleAPIUpdateInvoice))
	s.mux.HandleFunc("DELETE /api/invoices/{id}", auth.RequireAuth(s.handleAPIDeleteInvoice))
	s.mux.HandleFunc("GET /api/invoices", auth.RequireAuth(s.handleAPIListInvoices))
	s.mux.HandleFunc("POST /api/invoices", auth.RequireAuth(s.handleAPICreateInvoice))
	s.mux.HandleFunc("GET /api/exchange-rate", auth.RequireAuth(s.handleAPIExchangeRate))
	s.mux.HandleFunc("GET /api/me", auth.RequireAuth(s.handleAPIMe))
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleHealth reports whether the store answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		slog.Error("Error pinging store", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
