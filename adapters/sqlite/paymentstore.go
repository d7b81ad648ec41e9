package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/ports"
)

// PaymentStore implements ports.PaymentStore using SQLite.
type PaymentStore struct {
	db *DB
}

// NewPaymentStore creates a new SQLite payment store.
func NewPaymentStore(db *DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `
	id, payer_id, org_id, package_id, gateway, order_ref,
	amount, currency, status, transaction_ref, gateway_response,
	bank_code, card_type, renewal, created_at, updated_at, expires_at, paid_at`

// Get retrieves a payment by ID.
func (s *PaymentStore) Get(ctx context.Context, id string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = ?
	`, id)
	return scanPayment(row)
}

// GetByOrderRef retrieves a payment by its unique order reference.
func (s *PaymentStore) GetByOrderRef(ctx context.Context, orderRef string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_ref = ?
	`, orderRef)
	return scanPayment(row)
}

// Create stores a new payment.
func (s *PaymentStore) Create(ctx context.Context, p payment.Payment) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, payer_id, org_id, package_id, gateway, order_ref,
			amount, currency, status, transaction_ref, gateway_response,
			bank_code, card_type, renewal, created_at, updated_at, expires_at, paid_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.PayerID, p.OrgID, p.PackageID, p.Gateway, p.OrderRef,
		p.Amount, p.Currency, string(p.Status), p.TransactionRef, p.GatewayResponse,
		p.BankCode, p.CardType, boolToInt(p.Renewal), p.CreatedAt, p.UpdatedAt,
		nullTime(p.ExpiresAt), nullTime(p.PaidAt),
	)

	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Update writes a payment guarded on its expected prior status. Webhook
// events arrive out of order and at least once; the guard makes transitions
// compare-and-swap.
func (s *PaymentStore) Update(ctx context.Context, p payment.Payment, expect payment.Status) error {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, transaction_ref = ?, gateway_response = ?,
		    bank_code = ?, card_type = ?, updated_at = ?, paid_at = ?
		WHERE id = ? AND status = ?
	`,
		string(p.Status), p.TransactionRef, p.GatewayResponse,
		p.BankCode, p.CardType, p.UpdatedAt, nullTime(p.PaidAt),
		p.ID, string(expect),
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost race.
		if _, getErr := s.Get(ctx, p.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ports.ErrStale
	}
	return nil
}

// ListPendingBefore returns PENDING payments whose TTL elapsed before cutoff.
func (s *PaymentStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

// ListStaleRenewals returns PROCESSING renewal charges created before cutoff.
func (s *PaymentStore) ListStaleRenewals(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'PROCESSING' AND renewal = 1 AND created_at < ?
		ORDER BY created_at
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

// ListCompletedWithoutInvoice returns COMPLETED payments older than cutoff
// with no invoice row.
func (s *PaymentStore) ListCompletedWithoutInvoice(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p
		WHERE p.status = 'COMPLETED' AND p.paid_at < ?
		  AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.payment_id = p.id)
		ORDER BY p.paid_at
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (payment.Payment, error) {
	var p payment.Payment
	var status string
	var renewal int
	var expiresAt, paidAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.PayerID, &p.OrgID, &p.PackageID, &p.Gateway, &p.OrderRef,
		&p.Amount, &p.Currency, &status, &p.TransactionRef, &p.GatewayResponse,
		&p.BankCode, &p.CardType, &renewal, &p.CreatedAt, &p.UpdatedAt,
		&expiresAt, &paidAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, err
	}

	p.Status = payment.Status(status)
	p.Renewal = renewal != 0
	p.ExpiresAt = timePtr(expiresAt)
	p.PaidAt = timePtr(paidAt)
	return p, nil
}

func scanPayments(rows *sql.Rows) ([]payment.Payment, error) {
	var out []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
