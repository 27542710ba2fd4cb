package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/exchange"
	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/itemscan"
	"github.com/zombor/invoice-tracker/internal/storage"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// store is what both backends provide
type store interface {
	invoice.DB
	auth.UserStore
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A local .env feeds the same INVOICE_TRACKER_* variables
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not load .env", "error", err)
	}

	fs := ff.NewFlagSet("invoice-tracker")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		storeType     = fs.StringLong("store", "bolt", "Store backend: 'bolt', 'sqlite' or 'postgres'")
		dbPath        = fs.StringLong("db", "invoice-tracker.db", "Database file path for bolt and sqlite")
		databaseDSN   = fs.StringLong("database-dsn", "", "Postgres connection string (or set DATABASE_URL env var)")
		sessionSecret = fs.StringLong("session-secret", "", "Secret used to sign session cookies")
		secureCookies = fs.BoolLong("secure-cookies", "Mark session cookies Secure (serve over HTTPS)")
		rateSource    = fs.StringLong("rate-source", "simulated", "Exchange rate source: 'simulated' or 'fixed'")
		exchangeRate  = fs.StringLong("exchange-rate", "82", "USD to INR rate for the fixed source")
		storeTimeout  = fs.DurationLong("store-timeout", invoice.DefaultStoreTimeout, "Timeout for each store call")
		scannerType   = fs.StringLong("scanner", "none", "Line-item scanner: 'none', 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...", "store", *storeType)
	db, err := openStore(*storeType, *dbPath, *databaseDSN)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize exchange rates
	var rates exchange.RateSource
	switch *rateSource {
	case "simulated":
		rates = exchange.NewSimulated()
	case "fixed":
		value, err := decimal.NewFromString(*exchangeRate)
		if err != nil || !value.IsPositive() {
			slog.Error("Invalid exchange rate", "value", *exchangeRate)
			os.Exit(1)
		}
		rates = exchange.NewFixed(value)
	default:
		slog.Error("Invalid rate source", "source", *rateSource, "valid", "simulated or fixed")
		os.Exit(1)
	}

	// Initialize scanner based on type
	ctx := context.Background()
	var scanner itemscan.Scanner
	switch *scannerType {
	case "none":
		slog.Info("Line-item scanning disabled")
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = itemscan.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = itemscan.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "none, gemini or ollama")
		os.Exit(1)
	}
	if scanner != nil {
		defer scanner.Close()
	}

	secret := *sessionSecret
	if secret == "" {
		secret = randomSecret()
		slog.Warn("No session secret configured, sessions will not survive a restart")
	}

	// Initialize services
	accounts := auth.NewService(db)
	sessions := auth.NewSessions(secret, *secureCookies)
	invoices := invoice.NewService(db, rates, *storeTimeout)

	// Initialize server
	server := invoice.NewServer(invoices, accounts, sessions, scanner)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

func openStore(kind, path, dsn string) (store, error) {
	switch kind {
	case "bolt":
		return storage.OpenBolt(path)
	case "sqlite":
		return storage.OpenSQLite(path)
	case "postgres":
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, errors.New("postgres needs --database-dsn or DATABASE_URL")
		}
		return storage.OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown store %q (valid: bolt, sqlite, postgres)", kind)
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
