package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/metrics"
	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/subscription"
	"github.com/artpar/billgate/ports"
)

// SubscriptionService owns entitlement state: activation, quota
// consumption, renewal application, and terminal transitions.
type SubscriptionService struct {
	subscriptions ports.SubscriptionStore
	packages      ports.PackageStore
	idGen         ports.IDGenerator
	clock         ports.Clock
	metrics       *metrics.Collector
	logger        zerolog.Logger
}

// NewSubscriptionService creates a new subscription service.
func NewSubscriptionService(
	subscriptions ports.SubscriptionStore,
	packages ports.PackageStore,
	idGen ports.IDGenerator,
	clock ports.Clock,
	m *metrics.Collector,
	logger zerolog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subscriptions: subscriptions,
		packages:      packages,
		idGen:         idGen,
		clock:         clock,
		metrics:       m,
		logger:        logger.With().Str("component", "subscriptions").Logger(),
	}
}

// Activate creates the subscription for a completed purchase. Idempotent:
// if a subscription already references this payment it is returned
// unchanged, so redelivered confirmations are safe.
func (s *SubscriptionService) Activate(ctx context.Context, p payment.Payment) (subscription.Subscription, error) {
	existing, err := s.subscriptions.GetByPaymentID(ctx, p.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return subscription.Subscription{}, fmt.Errorf("lookup subscription by payment: %w", err)
	}

	pkg, err := s.packages.Get(ctx, p.PackageID)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("load package: %w", err)
	}

	now := s.clock.Now()
	sub := subscription.New(s.idGen.New(), p.PayerID, p.OrgID, p.ID, pkg, now)
	sub.AutoRenew = true

	if err := s.subscriptions.Create(ctx, sub); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			// Lost an activation race for the same payment.
			return s.subscriptions.GetByPaymentID(ctx, p.ID)
		}
		return subscription.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	s.logger.Info().
		Str("subscription_id", sub.ID).
		Str("payment_id", p.ID).
		Str("package", pkg.Code).
		Time("end_at", sub.EndAt).
		Msg("subscription activated")
	return sub, nil
}

// Consume executes the atomic quota check-and-decrement. Returns the
// post-decrement subscription, subscription.ErrInsufficientQuota, or
// subscription.ErrNotUsable. Quota exhaustion is a business outcome, not
// an error condition worth logging.
func (s *SubscriptionService) Consume(ctx context.Context, subscriptionID string, quota catalog.QuotaType, amount int64) (subscription.Subscription, error) {
	if amount <= 0 {
		amount = 1
	}
	sub, err := s.subscriptions.Consume(ctx, ports.ConsumeRequest{
		SubscriptionID: subscriptionID,
		Quota:          quota,
		Amount:         amount,
	}, s.clock.Now())

	if s.metrics != nil {
		switch {
		case err == nil:
			s.metrics.QuotaConsumed.WithLabelValues(string(quota)).Add(float64(amount))
		case errors.Is(err, subscription.ErrInsufficientQuota):
			s.metrics.QuotaInsufficient.WithLabelValues(string(quota)).Inc()
		}
	}
	return sub, err
}

// ApplyRenewal extends the subscription period and refreshes quotas after
// a confirmed renewal payment.
func (s *SubscriptionService) ApplyRenewal(ctx context.Context, subscriptionID string) (subscription.Subscription, error) {
	sub, err := s.subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("load subscription: %w", err)
	}
	pkg, err := s.packages.Get(ctx, sub.PackageID)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("load package: %w", err)
	}

	renewed := subscription.Renew(sub, pkg, s.clock.Now())
	if err := s.subscriptions.Update(ctx, renewed); err != nil {
		return subscription.Subscription{}, fmt.Errorf("update subscription: %w", err)
	}

	s.logger.Info().
		Str("subscription_id", renewed.ID).
		Time("end_at", renewed.EndAt).
		Msg("subscription renewed")
	return renewed, nil
}

// GetActive returns the newest usable subscription for a (payer, org)
// pair, with live quota counters.
func (s *SubscriptionService) GetActive(ctx context.Context, payerID, orgID string) (subscription.Subscription, error) {
	return s.subscriptions.GetActive(ctx, payerID, orgID, s.clock.Now())
}

// Get returns a subscription by id.
func (s *SubscriptionService) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	return s.subscriptions.Get(ctx, id)
}

// Cancel moves a subscription to CANCELLED and turns off auto-renew.
// Idempotent: cancelling a cancelled subscription is a no-op.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID string) (subscription.Subscription, error) {
	sub, err := s.subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if sub.Status == subscription.StatusCancelled {
		return sub, nil
	}

	now := s.clock.Now()
	sub.Status = subscription.StatusCancelled
	sub.AutoRenew = false
	sub.GraceEndsAt = nil
	sub.CancelledAt = &now
	sub.UpdatedAt = now

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return subscription.Subscription{}, fmt.Errorf("update subscription: %w", err)
	}

	s.logger.Info().Str("subscription_id", sub.ID).Msg("subscription cancelled")
	return sub, nil
}

// Expire moves an overrun subscription to EXPIRED. Idempotent.
func (s *SubscriptionService) Expire(ctx context.Context, subscriptionID string) (subscription.Subscription, error) {
	sub, err := s.subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if sub.Status == subscription.StatusExpired || sub.Status == subscription.StatusCancelled {
		return sub, nil
	}

	sub.Status = subscription.StatusExpired
	sub.UpdatedAt = s.clock.Now()
	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return subscription.Subscription{}, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}
