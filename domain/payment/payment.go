// Package payment provides payment value types and pure state transition
// functions. All transitions are forward-only and compare-and-swap friendly:
// each pure function returns the updated payment together with the status it
// expects the stored row to still have, so stores can guard the write.
package payment

import (
	"errors"
	"time"
)

// Status represents payment state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
	StatusRefunded   Status = "REFUNDED"
)

var (
	// ErrInconsistentTransactionRef means the same order reference was
	// confirmed twice with different external transaction ids. Never
	// auto-resolved; flagged for manual reconciliation.
	ErrInconsistentTransactionRef = errors.New("inconsistent transaction reference")

	// ErrInvalidTransition means the requested transition is not a legal
	// forward move from the payment's current status.
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// Payment represents a payment attempt (value type).
type Payment struct {
	ID        string
	PayerID   string
	OrgID     string // optional organization
	PackageID string
	Gateway   string
	OrderRef  string // caller-visible, unique, used for reconciliation

	Amount   int64 // minor currency units
	Currency string

	Status          Status
	TransactionRef  string // external gateway reference, set once on completion
	GatewayResponse string // raw gateway response snapshot (JSON)
	BankCode        string
	CardType        string

	Renewal bool // true for renewal charges initiated by the coordinator

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time // TTL for PENDING
	PaidAt    *time.Time
}

// IsTerminal reports whether the payment is in a terminal state.
func (p Payment) IsTerminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// TTLExpired reports whether a PENDING payment has outlived its TTL.
func (p Payment) TTLExpired(now time.Time) bool {
	return p.Status == StatusPending && p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Result is the outcome of a pure transition: the updated payment, the
// status the stored row must still hold for the write to apply, and whether
// anything changed at all.
type Result struct {
	Payment Payment
	Expect  Status
	Changed bool
}

// Complete transitions PENDING/PROCESSING to COMPLETED.
// Idempotent: completing an already-completed payment with the same
// transaction reference is a no-op; a different reference is a fatal
// inconsistency and leaves the payment untouched.
func Complete(p Payment, txRef, rawResponse string, now time.Time) (Result, error) {
	if p.Status == StatusCompleted {
		if p.TransactionRef == txRef {
			return Result{Payment: p, Expect: StatusCompleted}, nil
		}
		return Result{Payment: p, Expect: p.Status}, ErrInconsistentTransactionRef
	}
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return Result{Payment: p, Expect: p.Status}, ErrInvalidTransition
	}

	expect := p.Status
	p.Status = StatusCompleted
	p.TransactionRef = txRef
	if rawResponse != "" {
		p.GatewayResponse = rawResponse
	}
	paidAt := now
	p.PaidAt = &paidAt
	p.UpdatedAt = now
	return Result{Payment: p, Expect: expect, Changed: true}, nil
}

// Fail transitions a non-terminal payment to FAILED.
// Applying Fail to an already-completed (or otherwise terminal) payment is a
// no-op, never a downgrade.
func Fail(p Payment, rawResponse string, now time.Time) Result {
	if p.IsTerminal() {
		return Result{Payment: p, Expect: p.Status}
	}
	expect := p.Status
	p.Status = StatusFailed
	if rawResponse != "" {
		p.GatewayResponse = rawResponse
	}
	p.UpdatedAt = now
	return Result{Payment: p, Expect: expect, Changed: true}
}

// Cancel transitions a non-terminal payment to CANCELLED. No-op on terminal
// payments.
func Cancel(p Payment, now time.Time) Result {
	if p.IsTerminal() {
		return Result{Payment: p, Expect: p.Status}
	}
	expect := p.Status
	p.Status = StatusCancelled
	p.UpdatedAt = now
	return Result{Payment: p, Expect: expect, Changed: true}
}

// Expire transitions a PENDING payment past its TTL to EXPIRED, or a stale
// PROCESSING renewal charge that never confirmed. No-op otherwise.
func Expire(p Payment, now time.Time) Result {
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return Result{Payment: p, Expect: p.Status}
	}
	expect := p.Status
	p.Status = StatusExpired
	p.UpdatedAt = now
	return Result{Payment: p, Expect: expect, Changed: true}
}
