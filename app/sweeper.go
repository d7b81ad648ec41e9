package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/metrics"
	"github.com/artpar/billgate/domain/renewal"
	"github.com/artpar/billgate/ports"
)

const sweepBatchLimit = 500

// SweeperService runs the idempotent time-based reaper jobs: subscription
// expiry, pending-payment TTL, grace-lapse cancellation, audit retention
// and invoice backfill.
type SweeperService struct {
	subscriptions ports.SubscriptionStore
	payments      ports.PaymentStore
	events        ports.EventStore

	paymentSvc      *PaymentService
	subscriptionSvc *SubscriptionService
	invoiceSvc      *InvoiceService
	renewalSvc      *RenewalService

	clock   ports.Clock
	polMu   sync.RWMutex
	policy  Policy
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewSweeperService creates a new sweeper.
func NewSweeperService(
	subscriptions ports.SubscriptionStore,
	payments ports.PaymentStore,
	events ports.EventStore,
	paymentSvc *PaymentService,
	subscriptionSvc *SubscriptionService,
	invoiceSvc *InvoiceService,
	renewalSvc *RenewalService,
	clock ports.Clock,
	policy Policy,
	m *metrics.Collector,
	logger zerolog.Logger,
) *SweeperService {
	return &SweeperService{
		subscriptions:   subscriptions,
		payments:        payments,
		events:          events,
		paymentSvc:      paymentSvc,
		subscriptionSvc: subscriptionSvc,
		invoiceSvc:      invoiceSvc,
		renewalSvc:      renewalSvc,
		clock:           clock,
		policy:          policy.withDefaults(),
		metrics:         m,
		logger:          logger.With().Str("component", "sweeper").Logger(),
	}
}

// UpdatePolicy swaps the billing policy. Called on config reload.
func (s *SweeperService) UpdatePolicy(p Policy) {
	s.polMu.Lock()
	s.policy = p.withDefaults()
	s.polMu.Unlock()
}

func (s *SweeperService) pol() Policy {
	s.polMu.RLock()
	defer s.polMu.RUnlock()
	return s.policy
}

// Run executes every sweep job once. Each job is independent; one failing
// does not stop the others.
func (s *SweeperService) Run(ctx context.Context) error {
	start := s.clock.Now()
	var firstErr error
	record := func(name string, err error) {
		result := "ok"
		if err != nil {
			result = "error"
			s.logger.Error().Err(err).Str("job", name).Msg("sweep job failed")
			if firstErr == nil {
				firstErr = err
			}
		}
		if s.metrics != nil {
			s.metrics.SweepRuns.WithLabelValues(result).Inc()
		}
	}

	record("expire_subscriptions", s.ExpireSubscriptions(ctx))
	record("expire_pending_payments", s.ExpirePendingPayments(ctx))
	record("cancel_grace_lapsed", s.CancelGraceLapsed(ctx))
	record("purge_events", s.PurgeEvents(ctx))
	record("invoice_backfill", s.BackfillInvoices(ctx))

	if s.metrics != nil {
		s.metrics.SweepLastDuration.Set(time.Since(start).Seconds())
	}
	return firstErr
}

// ExpireSubscriptions moves ACTIVE non-auto-renew subscriptions past their
// end to EXPIRED.
func (s *SweeperService) ExpireSubscriptions(ctx context.Context) error {
	now := s.clock.Now()
	expired, err := s.subscriptions.ListExpired(ctx, now, sweepBatchLimit)
	if err != nil {
		return err
	}
	for _, sub := range expired {
		if _, err := s.subscriptionSvc.Expire(ctx, sub.ID); err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to expire subscription")
			continue
		}
		s.logger.Info().Str("subscription_id", sub.ID).Msg("subscription expired")
	}
	return nil
}

// ExpirePendingPayments moves PENDING payments past their TTL to EXPIRED.
func (s *SweeperService) ExpirePendingPayments(ctx context.Context) error {
	now := s.clock.Now()
	pending, err := s.payments.ListPendingBefore(ctx, now, sweepBatchLimit)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if err := s.paymentSvc.expirePending(ctx, p, now); err != nil {
			s.logger.Error().Err(err).Str("payment_id", p.ID).Msg("failed to expire pending payment")
		}
	}
	return nil
}

// CancelGraceLapsed cancels PAST_DUE subscriptions whose grace window
// closed without a successful payment. The sweeper is the single writer
// for this transition.
func (s *SweeperService) CancelGraceLapsed(ctx context.Context) error {
	now := s.clock.Now()
	lapsed, err := s.subscriptions.ListGraceLapsed(ctx, now, sweepBatchLimit)
	if err != nil {
		return err
	}
	for _, sub := range lapsed {
		cancelled, err := s.subscriptionSvc.Cancel(ctx, sub.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to cancel grace-lapsed subscription")
			continue
		}
		s.logger.Warn().Str("subscription_id", sub.ID).Msg("grace period lapsed, subscription cancelled")
		if s.renewalSvc != nil {
			s.renewalSvc.sendNotice(ctx, cancelled, renewal.NoticeFinal)
		}
	}
	return nil
}

// PurgeEvents removes inbound-event audit rows older than the retention
// window.
func (s *SweeperService) PurgeEvents(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.pol().EventRetention)
	n, err := s.events.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info().Int64("purged", n).Msg("audit rows purged")
	}
	return nil
}

// BackfillInvoices issues invoices for COMPLETED payments that somehow
// missed invoice generation on the confirmation path.
func (s *SweeperService) BackfillInvoices(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.pol().InvoiceBackfillAge)
	missing, err := s.payments.ListCompletedWithoutInvoice(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		return err
	}
	for _, p := range missing {
		if _, err := s.invoiceSvc.GenerateForPayment(ctx, p.ID); err != nil {
			s.logger.Error().Err(err).Str("payment_id", p.ID).Msg("invoice backfill failed")
			continue
		}
		s.logger.Info().Str("payment_id", p.ID).Msg("invoice backfilled")
	}
	return nil
}
