package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artpar/billgate/domain/invoice"
)

// InvoiceStore implements ports.InvoiceStore using SQLite.
// Invoices are write-once: no update is exposed.
type InvoiceStore struct {
	db *DB
}

// NewInvoiceStore creates a new SQLite invoice store.
func NewInvoiceStore(db *DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

const invoiceColumns = `
	id, payment_id, number, buyer_name, buyer_email, buyer_phone,
	buyer_address, buyer_tax_code, items, subtotal, tax, total, currency,
	issued_at, created_at`

// Get retrieves an invoice by ID.
func (s *InvoiceStore) Get(ctx context.Context, id string) (invoice.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = ?
	`, id)
	return scanInvoice(row)
}

// GetByPaymentID retrieves the invoice for a payment.
func (s *InvoiceStore) GetByPaymentID(ctx context.Context, paymentID string) (invoice.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE payment_id = ?
	`, paymentID)
	return scanInvoice(row)
}

// Create stores a new invoice. The payment_id unique constraint enforces
// one invoice per payment; a second create returns ErrDuplicate.
func (s *InvoiceStore) Create(ctx context.Context, inv invoice.Invoice) error {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, payment_id, number, buyer_name, buyer_email, buyer_phone,
			buyer_address, buyer_tax_code, items, subtotal, tax, total, currency,
			issued_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.PaymentID, inv.Number,
		inv.Buyer.Name, inv.Buyer.Email, inv.Buyer.Phone,
		inv.Buyer.Address, inv.Buyer.TaxCode,
		string(items), inv.Subtotal, inv.Tax, inv.Total, inv.Currency,
		inv.IssuedAt, inv.CreatedAt,
	)

	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

func scanInvoice(row rowScanner) (invoice.Invoice, error) {
	var inv invoice.Invoice
	var items string

	err := row.Scan(
		&inv.ID, &inv.PaymentID, &inv.Number,
		&inv.Buyer.Name, &inv.Buyer.Email, &inv.Buyer.Phone,
		&inv.Buyer.Address, &inv.Buyer.TaxCode,
		&items, &inv.Subtotal, &inv.Tax, &inv.Total, &inv.Currency,
		&inv.IssuedAt, &inv.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, ErrNotFound
	}
	if err != nil {
		return invoice.Invoice{}, err
	}

	if err := json.Unmarshal([]byte(items), &inv.Items); err != nil {
		return invoice.Invoice{}, fmt.Errorf("unmarshal items: %w", err)
	}
	return inv, nil
}
