package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/metrics"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/ports"
)

// ErrPaymentExpired is surfaced to callers querying an expired checkout:
// session expired, start over.
var ErrPaymentExpired = errors.New("payment session expired")

// ErrUnknownGateway means the requested gateway is not configured.
var ErrUnknownGateway = errors.New("unknown gateway")

// ErrPackageInactive means the package cannot be purchased anymore.
var ErrPackageInactive = errors.New("package not purchasable")

// PaymentService creates payment attempts and reads their status.
type PaymentService struct {
	packages ports.PackageStore
	payments ports.PaymentStore
	gateways map[string]ports.GatewayProvider
	idGen    ports.IDGenerator
	clock    ports.Clock
	polMu    sync.RWMutex
	policy   Policy
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	packages ports.PackageStore,
	payments ports.PaymentStore,
	gateways map[string]ports.GatewayProvider,
	idGen ports.IDGenerator,
	clock ports.Clock,
	policy Policy,
	m *metrics.Collector,
	logger zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		packages: packages,
		payments: payments,
		gateways: gateways,
		idGen:    idGen,
		clock:    clock,
		policy:   policy.withDefaults(),
		metrics:  m,
		logger:   logger.With().Str("component", "payments").Logger(),
	}
}

// UpdatePolicy swaps the billing policy. Called on config reload.
func (s *PaymentService) UpdatePolicy(p Policy) {
	s.polMu.Lock()
	s.policy = p.withDefaults()
	s.polMu.Unlock()
}

func (s *PaymentService) pol() Policy {
	s.polMu.RLock()
	defer s.polMu.RUnlock()
	return s.policy
}

// CreatePaymentRequest describes a purchase intent.
type CreatePaymentRequest struct {
	PayerID   string
	OrgID     string
	PackageID string
	Gateway   string
	BankCode  string // optional hint for redirect gateways
	ReturnURL string
	ClientIP  string
}

// CreatePayment persists a PENDING payment with a TTL and obtains the
// payer-facing URL from the gateway. Adapter failure transitions the
// payment to FAILED and surfaces the error; first-time purchases are never
// retried automatically.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (payment.Payment, string, error) {
	provider, ok := s.gateways[req.Gateway]
	if !ok {
		return payment.Payment{}, "", fmt.Errorf("%w: %s", ErrUnknownGateway, req.Gateway)
	}

	pkg, err := s.packages.Get(ctx, req.PackageID)
	if err != nil {
		return payment.Payment{}, "", fmt.Errorf("load package: %w", err)
	}
	if !pkg.Active {
		return payment.Payment{}, "", fmt.Errorf("%w: %s", ErrPackageInactive, pkg.Code)
	}

	now := s.clock.Now()
	expires := now.Add(s.pol().PendingTTL)
	p := payment.Payment{
		ID:        s.idGen.New(),
		PayerID:   req.PayerID,
		OrgID:     req.OrgID,
		PackageID: pkg.ID,
		Gateway:   provider.Name(),
		OrderRef:  makeOrderRef(s.idGen.New()),
		Amount:    pkg.FinalPrice(),
		Currency:  pkg.Currency,
		Status:    payment.StatusPending,
		BankCode:  req.BankCode,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expires,
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return payment.Payment{}, "", fmt.Errorf("create payment: %w", err)
	}

	s.logger.Info().
		Str("payment_id", p.ID).
		Str("order_ref", p.OrderRef).
		Str("gateway", p.Gateway).
		Int64("amount", p.Amount).
		Msg("payment created")

	session, err := provider.CreateSession(ctx, ports.SessionRequest{
		OrderRef:    p.OrderRef,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: fmt.Sprintf("%s (%s)", pkg.Name, p.OrderRef),
		ReturnURL:   req.ReturnURL,
		BankCode:    req.BankCode,
		ClientIP:    req.ClientIP,
		Metadata:    map[string]string{"payment_id": p.ID},
	})
	if err != nil {
		res := payment.Fail(p, "", s.clock.Now())
		if res.Changed {
			if uerr := s.payments.Update(ctx, res.Payment, res.Expect); uerr != nil {
				s.logger.Error().Err(uerr).Str("payment_id", p.ID).Msg("failed to mark payment FAILED after session error")
			}
		}
		if s.metrics != nil {
			s.metrics.PaymentsFailed.WithLabelValues(p.Gateway).Inc()
		}
		return payment.Payment{}, "", fmt.Errorf("create gateway session: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PaymentsCreated.WithLabelValues(p.Gateway, strconv.FormatBool(p.Renewal)).Inc()
	}
	return p, session.PayerURL, nil
}

// GetStatus returns the current payment snapshot. Expired sessions surface
// ErrPaymentExpired so the caller can prompt a fresh start; the row itself
// is only moved to EXPIRED by the sweeper.
func (s *PaymentService) GetStatus(ctx context.Context, paymentID string) (payment.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status == payment.StatusExpired || p.TTLExpired(s.clock.Now()) {
		return p, ErrPaymentExpired
	}
	return p, nil
}

// GetByOrderRef returns the payment for a caller-visible order reference.
func (s *PaymentService) GetByOrderRef(ctx context.Context, orderRef string) (payment.Payment, error) {
	return s.payments.GetByOrderRef(ctx, orderRef)
}

// expirePending is used by the sweeper: CAS a pending payment past its TTL
// to EXPIRED.
func (s *PaymentService) expirePending(ctx context.Context, p payment.Payment, now time.Time) error {
	if !p.TTLExpired(now) {
		return nil
	}
	res := payment.Expire(p, now)
	if !res.Changed {
		return nil
	}
	err := s.payments.Update(ctx, res.Payment, res.Expect)
	if errors.Is(err, ports.ErrStale) {
		// Confirmed concurrently; the webhook won.
		return nil
	}
	if err == nil && s.metrics != nil {
		s.metrics.PaymentsExpired.Inc()
	}
	return err
}
