package storage

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

var _ = Describe("SQL on SQLite", func() {
	storeBehaviour(func() store {
		db, err := OpenSQLite(filepath.Join(GinkgoT().TempDir(), "test.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})

	It("writes nothing when an item insert fails", func() {
		db, err := OpenSQLite(filepath.Join(GinkgoT().TempDir(), "atomic.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		inv := sampleInvoice("atomic", "alice", baseTime, "1", "2")
		inv.Items[1].ID = inv.Items[0].ID
		Expect(db.CreateInvoice(context.Background(), inv)).NotTo(Succeed())

		_, err = db.GetInvoice(context.Background(), "atomic")
		Expect(err).To(MatchError(invoice.ErrNotFound))
	})

	It("keeps the old items when a replacement fails", func() {
		db, err := OpenSQLite(filepath.Join(GinkgoT().TempDir(), "replace.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		inv := sampleInvoice("keep", "alice", baseTime, "1", "2")
		Expect(db.CreateInvoice(context.Background(), inv)).To(Succeed())

		bad := sampleInvoice("keep", "alice", baseTime, "3", "4")
		bad.Items[1].ID = bad.Items[0].ID
		Expect(db.UpdateInvoice(context.Background(), bad, bad.Items)).NotTo(Succeed())

		items, err := db.ListItems(context.Background(), "keep")
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(2))
		Expect(items[0].AmountUSD).To(equalDecimal("1"))
	})
})
