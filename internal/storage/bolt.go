// Package storage persists invoices and users in an embedded bbolt file or
// a relational database through gorm.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-tracker/internal/auth"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

var (
	invoicesBucket     = []byte("invoices")
	itemsBucket        = []byte("invoice_items")
	usersBucket        = []byte("users")
	usersByEmailBucket = []byte("users_by_email")
)

// Bolt implements invoice.DB and auth.UserStore using BoltDB. Each
// invoice's items live in a nested bucket keyed by position, so deleting
// the invoice drops its items with one bucket delete.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database file
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{invoicesBucket, itemsBucket, usersBucket, usersByEmailBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// CreateInvoice stores the invoice and its items in one transaction
func (b *Bolt) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		invoices := tx.Bucket(invoicesBucket)
		if invoices.Get([]byte(inv.ID)) != nil {
			return fmt.Errorf("invoice %s already exists", inv.ID)
		}
		if err := putInvoice(invoices, inv); err != nil {
			return err
		}
		return putItems(tx.Bucket(itemsBucket), inv.ID, inv.Items)
	})
}

// GetInvoice returns the invoice with its items
func (b *Bolt) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var inv *invoice.Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(invoicesBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("invoice %s: %w", id, invoice.ErrNotFound)
		}
		if err := json.Unmarshal(data, &inv); err != nil {
			return fmt.Errorf("unmarshaling invoice: %w", err)
		}
		items, err := readItems(tx.Bucket(itemsBucket), id)
		if err != nil {
			return err
		}
		inv.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the user's invoices, newest first
func (b *Bolt) ListInvoices(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	invoices := make([]*invoice.Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(invoicesBucket).ForEach(func(k, v []byte) error {
			var inv invoice.Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if inv.UserID == userID {
				invoices = append(invoices, &inv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
		}
		return invoices[i].ID < invoices[j].ID
	})
	return invoices, nil
}

// ListItems returns an invoice's items ordered by position
func (b *Bolt) ListItems(ctx context.Context, invoiceID string) ([]*invoice.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items []*invoice.Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		items, err = readItems(tx.Bucket(itemsBucket), invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateInvoice saves the invoice and, when items is non-nil, replaces its items
func (b *Bolt) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, items []*invoice.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		invoices := tx.Bucket(invoicesBucket)
		if invoices.Get([]byte(inv.ID)) == nil {
			return fmt.Errorf("invoice %s: %w", inv.ID, invoice.ErrNotFound)
		}
		if err := putInvoice(invoices, inv); err != nil {
			return err
		}
		if items == nil {
			return nil
		}
		parent := tx.Bucket(itemsBucket)
		if err := parent.DeleteBucket([]byte(inv.ID)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("deleting items: %w", err)
		}
		return putItems(parent, inv.ID, items)
	})
}

// DeleteInvoice removes the invoice and its items bucket
func (b *Bolt) DeleteInvoice(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		invoices := tx.Bucket(invoicesBucket)
		if invoices.Get([]byte(id)) == nil {
			return fmt.Errorf("invoice %s: %w", id, invoice.ErrNotFound)
		}
		if err := invoices.Delete([]byte(id)); err != nil {
			return err
		}
		err := tx.Bucket(itemsBucket).DeleteBucket([]byte(id))
		if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("deleting items: %w", err)
		}
		return nil
	})
}

// Ping checks the file can be read
func (b *Bolt) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(invoicesBucket) == nil {
			return errors.New("invoices bucket missing")
		}
		return nil
	})
}

// Close closes the database connection
func (b *Bolt) Close() error {
	return b.db.Close()
}

// boltUser keeps the password hash, which auth.User hides from JSON
type boltUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser stores the user and indexes its email
func (b *Bolt) CreateUser(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(usersByEmailBucket)
		if byEmail.Get([]byte(user.Email)) != nil {
			return auth.ErrEmailTaken
		}
		data, err := json.Marshal(boltUser(*user))
		if err != nil {
			return fmt.Errorf("marshaling user: %w", err)
		}
		if err := tx.Bucket(usersBucket).Put([]byte(user.ID), data); err != nil {
			return err
		}
		return byEmail.Put([]byte(user.Email), []byte(user.ID))
	})
}

// GetUser retrieves a user by ID
func (b *Bolt) GetUser(ctx context.Context, id string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user *auth.User
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = readUser(tx, []byte(id))
		return err
	})
	return user, err
}

// GetUserByEmail retrieves a user by lower-cased email
func (b *Bolt) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user *auth.User
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(usersByEmailBucket).Get([]byte(email))
		if id == nil {
			return auth.ErrUserNotFound
		}
		var err error
		user, err = readUser(tx, id)
		return err
	})
	return user, err
}

func readUser(tx *bbolt.Tx, id []byte) (*auth.User, error) {
	data := tx.Bucket(usersBucket).Get(id)
	if data == nil {
		return nil, auth.ErrUserNotFound
	}
	var u boltUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}
	user := auth.User(u)
	return &user, nil
}

// putInvoice stores the invoice fields without its items
func putInvoice(bucket *bbolt.Bucket, inv *invoice.Invoice) error {
	stored := *inv
	stored.Items = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling invoice: %w", err)
	}
	return bucket.Put([]byte(inv.ID), data)
}

func putItems(parent *bbolt.Bucket, invoiceID string, items []*invoice.Item) error {
	bucket, err := parent.CreateBucket([]byte(invoiceID))
	if err != nil {
		return fmt.Errorf("creating items bucket: %w", err)
	}
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		if err := bucket.Put(itob(it.Position), data); err != nil {
			return err
		}
	}
	return nil
}

// readItems returns the items in key order, which is position order
func readItems(parent *bbolt.Bucket, invoiceID string) ([]*invoice.Item, error) {
	items := make([]*invoice.Item, 0)
	bucket := parent.Bucket([]byte(invoiceID))
	if bucket == nil {
		return items, nil
	}
	err := bucket.ForEach(func(k, v []byte) error {
		var it invoice.Item
		if err := json.Unmarshal(v, &it); err != nil {
			return fmt.Errorf("unmarshaling item: %w", err)
		}
		items = append(items, &it)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// itob encodes a position as a big-endian key so byte order matches numeric order
func itob(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
