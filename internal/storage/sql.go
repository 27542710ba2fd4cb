package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/money"
)

// SQL implements invoice.DB and auth.UserStore on a relational database
// through gorm. Invoice and item writes share one transaction.
type SQL struct {
	db *gorm.DB
}

// OpenSQLite opens a SQLite file with foreign keys enforced
func OpenSQLite(path string) (*SQL, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on"
	} else if !strings.Contains(dsn, "_foreign_keys") {
		dsn += "&_foreign_keys=on"
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	return NewSQL(db)
}

// OpenPostgres connects to PostgreSQL with a DSN or URL
func OpenPostgres(dsn string) (*SQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return NewSQL(db)
}

// NewSQL migrates the schema on an open connection
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&userRow{}, &invoiceRow{}, &itemRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQL{db: db}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

type invoiceRow struct {
	ID               string `gorm:"primaryKey;size:36"`
	UserID           string `gorm:"size:36;not null;index"`
	Number           string `gorm:"not null"`
	Date             time.Time
	SenderName       string `gorm:"not null"`
	SenderAddress    string `gorm:"not null"`
	SenderTaxID      string
	RecipientName    string `gorm:"not null"`
	RecipientAddress string `gorm:"not null"`
	RecipientTaxID   string
	RecipientPAN     string
	RecipientEmail   string
	RecipientPhone   string
	RecipientWebsite string
	TaxRate          decimal.Decimal `gorm:"type:text;not null"`
	SubtotalUSD      decimal.Decimal `gorm:"type:text;not null"`
	SubtotalINR      decimal.Decimal `gorm:"type:text;not null"`
	TaxUSD           decimal.Decimal `gorm:"type:text;not null"`
	TaxINR           decimal.Decimal `gorm:"type:text;not null"`
	TotalUSD         decimal.Decimal `gorm:"type:text;not null"`
	TotalINR         decimal.Decimal `gorm:"type:text;not null"`
	Currency         string          `gorm:"size:3;not null"`
	ExchangeRate     decimal.Decimal `gorm:"type:text;not null"`
	Notes            string
	CreatedAt        time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
	Items            []itemRow `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
}

func (invoiceRow) TableName() string { return "invoices" }

type itemRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	InvoiceID   string `gorm:"size:36;not null;index"`
	Position    int    `gorm:"not null"`
	Name        string `gorm:"not null"`
	Description string
	AmountUSD   decimal.Decimal `gorm:"type:text;not null"`
	AmountINR   decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt   time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime:false"`
}

func (itemRow) TableName() string { return "invoice_items" }

type userRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
}

func (userRow) TableName() string { return "users" }

// CreateInvoice inserts the invoice and its items in one transaction
func (s *SQL) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	row := toInvoiceRow(inv)
	items := toItemRows(inv.Items)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("inserting invoice: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("inserting items: %w", err)
		}
		return nil
	})
}

// GetInvoice returns the invoice with its items
func (s *SQL) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	var row invoiceRow
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invoice %s: %w", id, invoice.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting invoice: %w", err)
	}
	inv := fromInvoiceRow(&row)
	inv.Items = fromItemRows(row.Items)
	return inv, nil
}

// ListInvoices returns the user's invoices, newest first
func (s *SQL) ListInvoices(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	var rows []invoiceRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("selecting invoices: %w", err)
	}
	invoices := make([]*invoice.Invoice, len(rows))
	for i := range rows {
		invoices[i] = fromInvoiceRow(&rows[i])
	}
	return invoices, nil
}

// ListItems returns an invoice's items ordered by position
func (s *SQL) ListItems(ctx context.Context, invoiceID string) ([]*invoice.Item, error) {
	var rows []itemRow
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("position").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("selecting items: %w", err)
	}
	return fromItemRows(rows), nil
}

// UpdateInvoice saves the invoice and, when items is non-nil, replaces its items
func (s *SQL) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, items []*invoice.Item) error {
	row := toInvoiceRow(inv)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&invoiceRow{}).
			Where("id = ?", inv.ID).
			Select("*").
			Omit("id", "user_id", "created_at", clause.Associations).
			Updates(&row)
		if res.Error != nil {
			return fmt.Errorf("updating invoice: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("invoice %s: %w", inv.ID, invoice.ErrNotFound)
		}
		if items == nil {
			return nil
		}
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&itemRow{}).Error; err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		rows := toItemRows(items)
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("inserting items: %w", err)
		}
		return nil
	})
}

// DeleteInvoice removes the invoice and its items
func (s *SQL) DeleteInvoice(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id = ?", id).Delete(&itemRow{}).Error; err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&invoiceRow{})
		if res.Error != nil {
			return fmt.Errorf("deleting invoice: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("invoice %s: %w", id, invoice.ErrNotFound)
		}
		return nil
	})
}

// Ping checks the connection
func (s *SQL) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts the user. Emails are unique.
func (s *SQL) CreateUser(ctx context.Context, user *auth.User) error {
	row := userRow(*user)
	var taken int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Where("email = ?", user.Email).Count(&taken).Error; err != nil {
		return fmt.Errorf("checking email: %w", err)
	}
	if taken > 0 {
		return auth.ErrEmailTaken
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return auth.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *SQL) GetUser(ctx context.Context, id string) (*auth.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by lower-cased email
func (s *SQL) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *SQL) findUser(ctx context.Context, query string, arg string) (*auth.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).First(&row, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	user := auth.User(row)
	return &user, nil
}

func toInvoiceRow(inv *invoice.Invoice) invoiceRow {
	return invoiceRow{
		ID:               inv.ID,
		UserID:           inv.UserID,
		Number:           inv.Number,
		Date:             inv.Date,
		SenderName:       inv.SenderName,
		SenderAddress:    inv.SenderAddress,
		SenderTaxID:      inv.SenderTaxID,
		RecipientName:    inv.RecipientName,
		RecipientAddress: inv.RecipientAddress,
		RecipientTaxID:   inv.RecipientTaxID,
		RecipientPAN:     inv.RecipientPAN,
		RecipientEmail:   inv.RecipientEmail,
		RecipientPhone:   inv.RecipientPhone,
		RecipientWebsite: inv.RecipientWebsite,
		TaxRate:          inv.TaxRate,
		SubtotalUSD:      inv.SubtotalUSD,
		SubtotalINR:      inv.SubtotalINR,
		TaxUSD:           inv.TaxUSD,
		TaxINR:           inv.TaxINR,
		TotalUSD:         inv.TotalUSD,
		TotalINR:         inv.TotalINR,
		Currency:         string(inv.Currency),
		ExchangeRate:     inv.ExchangeRate,
		Notes:            inv.Notes,
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
}

func fromInvoiceRow(row *invoiceRow) *invoice.Invoice {
	return &invoice.Invoice{
		ID:               row.ID,
		Number:           row.Number,
		Date:             row.Date.UTC(),
		SenderName:       row.SenderName,
		SenderAddress:    row.SenderAddress,
		SenderTaxID:      row.SenderTaxID,
		RecipientName:    row.RecipientName,
		RecipientAddress: row.RecipientAddress,
		RecipientTaxID:   row.RecipientTaxID,
		RecipientPAN:     row.RecipientPAN,
		RecipientEmail:   row.RecipientEmail,
		RecipientPhone:   row.RecipientPhone,
		RecipientWebsite: row.RecipientWebsite,
		TaxRate:          row.TaxRate,
		SubtotalUSD:      row.SubtotalUSD,
		SubtotalINR:      row.SubtotalINR,
		TaxUSD:           row.TaxUSD,
		TaxINR:           row.TaxINR,
		TotalUSD:         row.TotalUSD,
		TotalINR:         row.TotalINR,
		Currency:         money.Currency(row.Currency),
		ExchangeRate:     row.ExchangeRate,
		Notes:            row.Notes,
		UserID:           row.UserID,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

func toItemRows(items []*invoice.Item) []itemRow {
	rows := make([]itemRow, len(items))
	for i, it := range items {
		rows[i] = itemRow{
			ID:          it.ID,
			InvoiceID:   it.InvoiceID,
			Position:    it.Position,
			Name:        it.Name,
			Description: it.Description,
			AmountUSD:   it.AmountUSD,
			AmountINR:   it.AmountINR,
			CreatedAt:   it.CreatedAt,
			UpdatedAt:   it.UpdatedAt,
		}
	}
	return rows
}

func fromItemRows(rows []itemRow) []*invoice.Item {
	items := make([]*invoice.Item, len(rows))
	for i, r := range rows {
		items[i] = &invoice.Item{
			ID:          r.ID,
			InvoiceID:   r.InvoiceID,
			Position:    r.Position,
			Name:        r.Name,
			Description: r.Description,
			AmountUSD:   r.AmountUSD,
			AmountINR:   r.AmountINR,
			CreatedAt:   r.CreatedAt.UTC(),
			UpdatedAt:   r.UpdatedAt.UTC(),
		}
	}
	return items
}
