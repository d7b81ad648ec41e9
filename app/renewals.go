package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/metrics"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/renewal"
	"github.com/artpar/billgate/domain/subscription"
	"github.com/artpar/billgate/ports"
)

// Job types owned by the renewal coordinator.
const (
	JobRenewalCharge = "renewal.charge"
	JobSendNotice    = "notice.send"
)

const renewalBatchLimit = 200

// RenewalService is the recurring billing coordinator: it initiates renewal
// charges for subscriptions nearing their end, escalates grace policy on
// failure, and sends renewal reminders.
type RenewalService struct {
	subscriptions ports.SubscriptionStore
	payments      ports.PaymentStore
	packages      ports.PackageStore
	gateways      map[string]ports.GatewayProvider
	directory     ports.BuyerDirectory
	email         ports.EmailSender
	queue         ports.JobQueue
	idGen         ports.IDGenerator
	clock         ports.Clock
	polMu         sync.RWMutex
	policy        Policy
	metrics       *metrics.Collector
	logger        zerolog.Logger
}

// NewRenewalService creates a new renewal coordinator.
func NewRenewalService(
	subscriptions ports.SubscriptionStore,
	payments ports.PaymentStore,
	packages ports.PackageStore,
	gateways map[string]ports.GatewayProvider,
	directory ports.BuyerDirectory,
	email ports.EmailSender,
	queue ports.JobQueue,
	idGen ports.IDGenerator,
	clock ports.Clock,
	policy Policy,
	m *metrics.Collector,
	logger zerolog.Logger,
) *RenewalService {
	s := &RenewalService{
		subscriptions: subscriptions,
		payments:      payments,
		packages:      packages,
		gateways:      gateways,
		directory:     directory,
		email:         email,
		queue:         queue,
		idGen:         idGen,
		clock:         clock,
		policy:        policy.withDefaults(),
		metrics:       m,
		logger:        logger.With().Str("component", "renewals").Logger(),
	}
	if queue != nil {
		queue.Handle(JobRenewalCharge, s.handleChargeJob)
		queue.Handle(JobSendNotice, s.handleNoticeJob)
	}
	return s
}

// UpdatePolicy swaps the billing policy. Called on config reload.
func (s *RenewalService) UpdatePolicy(p Policy) {
	s.polMu.Lock()
	s.policy = p.withDefaults()
	s.polMu.Unlock()
}

func (s *RenewalService) pol() Policy {
	s.polMu.RLock()
	defer s.polMu.RUnlock()
	return s.policy
}

// Run is one coordinator pass: expire stale charges from the previous run,
// then charge every subscription due for renewal.
func (s *RenewalService) Run(ctx context.Context) error {
	if err := s.expireStaleCharges(ctx); err != nil {
		s.logger.Error().Err(err).Msg("stale charge pass failed")
	}

	now := s.clock.Now()
	due, err := s.subscriptions.ListRenewalDue(ctx, now, s.pol().RenewalLookahead, renewalBatchLimit)
	if err != nil {
		return fmt.Errorf("list renewal due: %w", err)
	}

	for _, sub := range due {
		if !renewal.Due(sub, now, s.pol().RenewalLookahead) {
			continue
		}
		if err := s.chargeSubscription(ctx, sub); err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("renewal charge failed to start")
		}
	}
	return nil
}

// chargeSubscription records a PROCESSING renewal payment for the current
// period and asks the gateway to charge the saved method. The period order
// reference is unique in the payments table, so a second coordinator pass
// (or a crashed one) cannot double-charge the period.
func (s *RenewalService) chargeSubscription(ctx context.Context, sub subscription.Subscription) error {
	pkg, err := s.packages.Get(ctx, sub.PackageID)
	if err != nil {
		return fmt.Errorf("load package: %w", err)
	}

	origin, err := s.payments.Get(ctx, sub.PaymentID)
	if err != nil {
		return fmt.Errorf("load originating payment: %w", err)
	}

	now := s.clock.Now()
	p := payment.Payment{
		ID:        s.idGen.New(),
		PayerID:   sub.PayerID,
		OrgID:     sub.OrgID,
		PackageID: pkg.ID,
		Gateway:   origin.Gateway,
		OrderRef:  renewal.PeriodOrderRef(sub.ID, sub.EndAt),
		Amount:    pkg.FinalPrice(),
		Currency:  pkg.Currency,
		Status:    payment.StatusProcessing,
		Renewal:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.payments.Create(ctx, p); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			// Period already charged or in flight.
			return nil
		}
		return fmt.Errorf("create renewal payment: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PaymentsCreated.WithLabelValues(p.Gateway, "true").Inc()
	}
	s.logger.Info().
		Str("subscription_id", sub.ID).
		Str("payment_id", p.ID).
		Str("order_ref", p.OrderRef).
		Msg("renewal charge started")

	return s.attemptCharge(ctx, sub, p)
}

// attemptCharge performs one gateway charge attempt for a PROCESSING
// renewal payment. Transient gateway failures are re-enqueued with backoff;
// the stale-charge sweep is the terminal backstop for attempts that never
// confirm.
func (s *RenewalService) attemptCharge(ctx context.Context, sub subscription.Subscription, p payment.Payment) error {
	provider, ok := s.gateways[p.Gateway]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, p.Gateway)
	}

	_, err := provider.ChargeSaved(ctx, ports.ChargeRequest{
		OrderRef:    p.OrderRef,
		CustomerRef: sub.PayerID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: fmt.Sprintf("Renewal %s", p.OrderRef),
		Metadata:    map[string]string{"subscription_id": sub.ID},
	})

	switch {
	case err == nil:
		// Confirmation arrives through the webhook path.
		if s.metrics != nil {
			s.metrics.RenewalAttempts.WithLabelValues("charged").Inc()
		}
		return nil

	case errors.Is(err, ports.ErrChargeUnsupported):
		// Redirect gateways cannot renew unattended. Close the charge and
		// ask the holder to renew manually.
		if s.metrics != nil {
			s.metrics.RenewalAttempts.WithLabelValues("unsupported").Inc()
		}
		res := payment.Cancel(p, s.clock.Now())
		if res.Changed {
			if uerr := s.payments.Update(ctx, res.Payment, res.Expect); uerr != nil && !errors.Is(uerr, ports.ErrStale) {
				s.logger.Error().Err(uerr).Str("payment_id", p.ID).Msg("failed to cancel unsupported renewal charge")
			}
		}
		s.sendNotice(ctx, sub, renewal.NoticeReminder)
		return nil

	case errors.Is(err, ports.ErrGatewayUnavailable):
		// Retry with backoff; ingestion of a late confirmation stays safe
		// because the handler re-reads payment state.
		if s.metrics != nil {
			s.metrics.RenewalAttempts.WithLabelValues("retry").Inc()
		}
		job := ports.Job{
			Type: JobRenewalCharge,
			Payload: map[string]string{
				"subscription_id": sub.ID,
				"payment_id":      p.ID,
			},
		}
		if qerr := s.queue.Enqueue(ctx, job, s.clock.Now().Add(time.Minute)); qerr != nil {
			return fmt.Errorf("enqueue charge retry: %w", qerr)
		}
		return nil

	default:
		// Hard decline. The gateway will usually also send a failure
		// event; escalate now rather than wait for it.
		if s.metrics != nil {
			s.metrics.RenewalAttempts.WithLabelValues("declined").Inc()
		}
		res := payment.Fail(p, err.Error(), s.clock.Now())
		if res.Changed {
			if uerr := s.payments.Update(ctx, res.Payment, res.Expect); uerr != nil && !errors.Is(uerr, ports.ErrStale) {
				s.logger.Error().Err(uerr).Str("payment_id", p.ID).Msg("failed to mark declined renewal charge")
			}
		}
		return s.HandleFailure(ctx, sub.ID)
	}
}

// handleChargeJob re-attempts a charge from the retry queue. Returning an
// error redelivers with backoff until the queue's attempt limit.
func (s *RenewalService) handleChargeJob(ctx context.Context, job ports.Job) error {
	p, err := s.payments.Get(ctx, job.Payload["payment_id"])
	if err != nil {
		return err
	}
	if p.Status != payment.StatusProcessing {
		// Confirmed, failed or expired while the retry waited.
		return nil
	}
	sub, err := s.subscriptions.Get(ctx, job.Payload["subscription_id"])
	if err != nil {
		return err
	}
	return s.attemptCharge(ctx, sub, p)
}

// HandleFailure applies one escalation step for a failed renewal charge:
// grace on the first failure, urgent notices on the next two, cancellation
// on the fourth. Called by the webhook processor on renewal-failed events
// and by the coordinator on hard declines and stale charges.
func (s *RenewalService) HandleFailure(ctx context.Context, subscriptionID string) error {
	sub, err := s.subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub.Status == subscription.StatusCancelled || sub.Status == subscription.StatusExpired {
		return nil
	}

	updated, notice := renewal.ApplyFailure(sub, s.pol().GracePeriod, s.clock.Now())
	if err := s.subscriptions.Update(ctx, updated); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	action := "grace"
	switch notice {
	case renewal.NoticeUrgent:
		action = "urgent"
	case renewal.NoticeFinal:
		action = "cancel"
	}
	if s.metrics != nil {
		s.metrics.RenewalEscalated.WithLabelValues(action).Inc()
	}
	s.logger.Warn().
		Str("subscription_id", updated.ID).
		Int("failures", updated.PaymentRetryCount).
		Str("action", action).
		Msg("renewal failure escalated")

	s.sendNotice(ctx, updated, notice)
	return nil
}

// expireStaleCharges treats PROCESSING renewal charges that never
// confirmed within the window as failures.
func (s *RenewalService) expireStaleCharges(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.pol().ConfirmWindow)
	stale, err := s.payments.ListStaleRenewals(ctx, cutoff, renewalBatchLimit)
	if err != nil {
		return fmt.Errorf("list stale renewals: %w", err)
	}

	for _, p := range stale {
		res := payment.Expire(p, s.clock.Now())
		if !res.Changed {
			continue
		}
		if err := s.payments.Update(ctx, res.Payment, res.Expect); err != nil {
			if errors.Is(err, ports.ErrStale) {
				// A late confirmation won; leave it alone.
				continue
			}
			s.logger.Error().Err(err).Str("payment_id", p.ID).Msg("failed to expire stale renewal charge")
			continue
		}

		subscriptionID, err := renewal.ParsePeriodOrderRef(p.OrderRef)
		if err != nil {
			s.logger.Error().Err(err).Str("payment_id", p.ID).Msg("stale renewal charge with unparsable order reference")
			continue
		}
		if err := s.HandleFailure(ctx, subscriptionID); err != nil {
			s.logger.Error().Err(err).Str("subscription_id", subscriptionID).Msg("escalation failed for stale charge")
		}
	}
	return nil
}

// RunReminders emails holders of non-auto-renew subscriptions ending
// ReminderLead from now.
func (s *RenewalService) RunReminders(ctx context.Context) error {
	day := s.clock.Now().Add(s.pol().ReminderLead).UTC().Truncate(24 * time.Hour)
	ending, err := s.subscriptions.ListEndingOn(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("list ending subscriptions: %w", err)
	}

	for _, sub := range ending {
		if sub.AutoRenew {
			continue
		}
		s.sendNotice(ctx, sub, renewal.NoticeReminder)
	}
	return nil
}

// sendNotice enqueues a billing notice for the subscription holder.
// Notices ride the job queue so a mail outage cannot stall billing.
func (s *RenewalService) sendNotice(ctx context.Context, sub subscription.Subscription, notice renewal.Notice) {
	buyer, err := s.directory.Lookup(ctx, sub.PayerID)
	if err != nil || buyer.Email == "" {
		s.logger.Debug().Str("payer_id", sub.PayerID).Str("notice", string(notice)).Msg("no email address, notice skipped")
		return
	}

	vars := map[string]string{
		"EndAt": sub.EndAt.UTC().Format("2006-01-02"),
	}
	if sub.GraceEndsAt != nil {
		vars["GraceEndsAt"] = sub.GraceEndsAt.UTC().Format("2006-01-02")
	}
	if sub.AutoRenew {
		vars["AutoRenew"] = "true"
	}
	if pkg, perr := s.packages.Get(ctx, sub.PackageID); perr == nil {
		vars["PackageName"] = pkg.Name
	}

	payload := map[string]string{
		"to":     buyer.Email,
		"notice": string(notice),
	}
	for k, v := range vars {
		payload["var."+k] = v
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, ports.Job{Type: JobSendNotice, Payload: payload}, s.clock.Now()); err == nil {
			return
		}
	}
	// Queue unavailable; best effort direct send.
	if err := s.email.SendNotice(ctx, buyer.Email, string(notice), vars); err != nil {
		s.logger.Error().Err(err).Str("notice", string(notice)).Msg("notice delivery failed")
	}
}

func (s *RenewalService) handleNoticeJob(ctx context.Context, job ports.Job) error {
	vars := make(map[string]string)
	for k, v := range job.Payload {
		if len(k) > 4 && k[:4] == "var." {
			vars[k[4:]] = v
		}
	}
	return s.email.SendNotice(ctx, job.Payload["to"], job.Payload["notice"], vars)
}
