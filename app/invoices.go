package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/domain/invoice"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/ports"
)

// ErrPaymentNotCompleted means an invoice was requested for a payment that
// has not completed.
var ErrPaymentNotCompleted = errors.New("payment not completed")

// InvoiceService produces one immutable invoice per completed payment.
type InvoiceService struct {
	invoices  ports.InvoiceStore
	payments  ports.PaymentStore
	packages  ports.PackageStore
	directory ports.BuyerDirectory
	idGen     ports.IDGenerator
	clock     ports.Clock
	logger    zerolog.Logger
}

// NewInvoiceService creates a new invoice service.
func NewInvoiceService(
	invoices ports.InvoiceStore,
	payments ports.PaymentStore,
	packages ports.PackageStore,
	directory ports.BuyerDirectory,
	idGen ports.IDGenerator,
	clock ports.Clock,
	logger zerolog.Logger,
) *InvoiceService {
	return &InvoiceService{
		invoices:  invoices,
		payments:  payments,
		packages:  packages,
		directory: directory,
		idGen:     idGen,
		clock:     clock,
		logger:    logger.With().Str("component", "invoices").Logger(),
	}
}

// GenerateForPayment creates the invoice for a completed payment.
// Idempotent: if an invoice already references this payment it is returned
// unchanged, so regenerating yields the same invoice id.
func (s *InvoiceService) GenerateForPayment(ctx context.Context, paymentID string) (invoice.Invoice, error) {
	existing, err := s.invoices.GetByPaymentID(ctx, paymentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return invoice.Invoice{}, fmt.Errorf("lookup invoice: %w", err)
	}

	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("load payment: %w", err)
	}
	if p.Status != payment.StatusCompleted {
		return invoice.Invoice{}, fmt.Errorf("%w: %s is %s", ErrPaymentNotCompleted, p.ID, p.Status)
	}

	pkg, err := s.packages.Get(ctx, p.PackageID)
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("load package: %w", err)
	}

	buyer, err := s.directory.Lookup(ctx, p.PayerID)
	if err != nil {
		// Invoices must still be issued; buyer fields stay blank.
		s.logger.Warn().Err(err).Str("payer_id", p.PayerID).Msg("buyer lookup failed, issuing invoice without snapshot")
		buyer = invoice.Buyer{}
	}

	inv := invoice.BuildForPayment(s.idGen.New(), p, pkg, buyer, s.clock.Now())
	if err := s.invoices.Create(ctx, inv); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			// Lost a generation race for the same payment.
			return s.invoices.GetByPaymentID(ctx, paymentID)
		}
		return invoice.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	s.logger.Info().
		Str("invoice_id", inv.ID).
		Str("number", inv.Number).
		Str("payment_id", paymentID).
		Msg("invoice issued")
	return inv, nil
}

// Get returns an invoice by id.
func (s *InvoiceService) Get(ctx context.Context, id string) (invoice.Invoice, error) {
	return s.invoices.Get(ctx, id)
}
