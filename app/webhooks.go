package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/metrics"
	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/renewal"
	"github.com/artpar/billgate/ports"
)

// WebhookService ingests asynchronous gateway confirmations. Every inbound
// delivery is persisted before verification; duplicates are detected by the
// (gateway, event id) uniqueness constraint, not application locks.
type WebhookService struct {
	events        ports.EventStore
	payments      ports.PaymentStore
	gateways      map[string]ports.GatewayProvider
	subscriptions *SubscriptionService
	renewals      *RenewalService
	invoices      *InvoiceService
	idGen         ports.IDGenerator
	clock         ports.Clock
	metrics       *metrics.Collector
	logger        zerolog.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(
	events ports.EventStore,
	payments ports.PaymentStore,
	gateways map[string]ports.GatewayProvider,
	subscriptions *SubscriptionService,
	renewals *RenewalService,
	invoices *InvoiceService,
	idGen ports.IDGenerator,
	clock ports.Clock,
	m *metrics.Collector,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		events:        events,
		payments:      payments,
		gateways:      gateways,
		subscriptions: subscriptions,
		renewals:      renewals,
		invoices:      invoices,
		idGen:         idGen,
		clock:         clock,
		metrics:       m,
		logger:        logger.With().Str("component", "webhooks").Logger(),
	}
}

// Ack tells the HTTP layer how to answer the gateway. Everything except a
// signature failure acks with success once the event is durably recorded,
// to prevent sender-side retry storms. Recorded is false only when the
// audit insert itself failed; the HTTP layer must answer 5xx then, so the
// gateway redelivers an event we hold no trace of.
type Ack struct {
	Outcome  gwevent.Outcome
	OrderRef string // order reference the event acted on, when one was extracted
	Recorded bool   // the delivery has an audit row
}

// OK reports whether the gateway should receive a success response.
func (a Ack) OK() bool {
	return a.Outcome != gwevent.OutcomeRejected
}

// Handle processes one inbound gateway delivery.
func (s *WebhookService) Handle(ctx context.Context, gatewayName string, payload []byte, signature string) (Ack, error) {
	now := s.clock.Now()

	// Audit first. The raw delivery is recorded even if everything after
	// this point fails.
	auditID := s.idGen.New()
	err := s.events.Create(ctx, gwevent.Event{
		ID:         auditID,
		Gateway:    gatewayName,
		Kind:       gwevent.KindUnknown,
		Payload:    string(payload),
		Outcome:    gwevent.OutcomeReceived,
		ReceivedAt: now,
	})
	if err != nil {
		return Ack{Outcome: gwevent.OutcomeError}, fmt.Errorf("record inbound event: %w", err)
	}

	provider, ok := s.gateways[gatewayName]
	if !ok {
		s.finish(ctx, auditID, gwevent.OutcomeRejected, "unknown gateway")
		return s.ack(gatewayName, gwevent.OutcomeRejected), fmt.Errorf("%w: %s", ErrUnknownGateway, gatewayName)
	}

	parsed, err := provider.VerifyInbound(payload, signature)
	if err != nil {
		s.finish(ctx, auditID, gwevent.OutcomeRejected, err.Error())
		s.logger.Warn().
			Str("gateway", gatewayName).
			Err(err).
			Msg("inbound event rejected: signature verification failed")
		return s.ack(gatewayName, gwevent.OutcomeRejected), ports.ErrSignatureInvalid
	}

	details := provider.ExtractDetails(parsed)

	// Claim the (gateway, event id) slot. Concurrent duplicate deliveries
	// race here; the loser sees ErrDuplicate and acks without acting.
	if err := s.events.ClaimEventID(ctx, auditID, parsed.EventID, parsed.Kind); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			s.finish(ctx, auditID, gwevent.OutcomeDuplicate, "")
			s.logger.Debug().
				Str("gateway", gatewayName).
				Str("event_id", parsed.EventID).
				Msg("duplicate event acknowledged")
			a := s.ack(gatewayName, gwevent.OutcomeDuplicate)
			a.OrderRef = details.OrderRef
			return a, nil
		}
		s.finish(ctx, auditID, gwevent.OutcomeError, err.Error())
		return s.ack(gatewayName, gwevent.OutcomeError), fmt.Errorf("claim event id: %w", err)
	}

	outcome := s.dispatch(ctx, gatewayName, parsed, details)
	s.finish(ctx, auditID, outcome, "")
	a := s.ack(gatewayName, outcome)
	a.OrderRef = details.OrderRef
	return a, nil
}

// dispatch routes a verified, non-duplicate event to the right domain
// action. Business failures are logged and still acknowledged.
func (s *WebhookService) dispatch(ctx context.Context, gatewayName string, parsed gwevent.Parsed, details gwevent.Details) gwevent.Outcome {
	log := s.logger.With().
		Str("gateway", gatewayName).
		Str("event_id", parsed.EventID).
		Str("order_ref", details.OrderRef).
		Logger()

	switch parsed.Kind {
	case gwevent.KindPurchaseConfirmed:
		if !details.Succeeded {
			return s.handlePaymentFailed(ctx, details, log)
		}
		return s.handlePurchaseConfirmed(ctx, gatewayName, details, log)

	case gwevent.KindPurchaseFailed:
		return s.handlePaymentFailed(ctx, details, log)

	case gwevent.KindRenewalConfirmed:
		if !details.Succeeded {
			return s.handleRenewalFailed(ctx, details, log)
		}
		return s.handleRenewalConfirmed(ctx, gatewayName, details, log)

	case gwevent.KindRenewalFailed:
		return s.handleRenewalFailed(ctx, details, log)

	case gwevent.KindCancellation:
		return s.handleCancellation(ctx, details, log)

	default:
		log.Info().Str("kind", string(parsed.Kind)).Msg("unknown event kind acknowledged")
		return gwevent.OutcomeIgnored
	}
}

func (s *WebhookService) handlePurchaseConfirmed(ctx context.Context, gatewayName string, d gwevent.Details, log zerolog.Logger) gwevent.Outcome {
	p, err := s.payments.GetByOrderRef(ctx, d.OrderRef)
	if err != nil {
		log.Error().Err(err).Msg("payment not found for confirmed purchase: reconciliation gap")
		return gwevent.OutcomeError
	}

	p = applyDetails(p, d)
	res, err := payment.Complete(p, d.TransactionRef, d.RawResponse, s.clock.Now())
	if err != nil {
		if errors.Is(err, payment.ErrInconsistentTransactionRef) {
			log.Error().
				Bool("manual_reconciliation", true).
				Str("payment_id", p.ID).
				Str("stored_transaction_ref", p.TransactionRef).
				Str("event_transaction_ref", d.TransactionRef).
				Msg("order reference confirmed twice with different transaction ids")
			return gwevent.OutcomeError
		}
		log.Error().Err(err).Str("payment_id", p.ID).Str("status", string(p.Status)).
			Msg("confirmation does not apply to payment state")
		return gwevent.OutcomeError
	}

	if res.Changed {
		if err := s.payments.Update(ctx, res.Payment, res.Expect); err != nil {
			if errors.Is(err, ports.ErrStale) {
				// A concurrent delivery won the write. Re-handle so the
				// idempotent no-op path runs against fresh state.
				log.Debug().Str("payment_id", p.ID).Msg("lost completion race, re-reading")
				return s.handlePurchaseConfirmed(ctx, gatewayName, d, log)
			}
			log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to persist completion")
			return gwevent.OutcomeError
		}
		if s.metrics != nil {
			s.metrics.PaymentsCompleted.WithLabelValues(gatewayName).Inc()
		}
	}

	if _, err := s.subscriptions.Activate(ctx, res.Payment); err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("activation failed after completed payment")
		return gwevent.OutcomeError
	}
	if _, err := s.invoices.GenerateForPayment(ctx, res.Payment.ID); err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("invoice generation failed")
		return gwevent.OutcomeError
	}

	log.Info().Str("payment_id", p.ID).Msg("purchase confirmed")
	return gwevent.OutcomeProcessed
}

func (s *WebhookService) handlePaymentFailed(ctx context.Context, d gwevent.Details, log zerolog.Logger) gwevent.Outcome {
	p, err := s.payments.GetByOrderRef(ctx, d.OrderRef)
	if err != nil {
		log.Error().Err(err).Msg("payment not found for failure event: reconciliation gap")
		return gwevent.OutcomeError
	}

	p = applyDetails(p, d)
	res := payment.Fail(p, d.RawResponse, s.clock.Now())
	if !res.Changed {
		return gwevent.OutcomeProcessed
	}
	if err := s.payments.Update(ctx, res.Payment, res.Expect); err != nil {
		if errors.Is(err, ports.ErrStale) {
			// Already moved by a concurrent delivery; failure never
			// downgrades a terminal state.
			return gwevent.OutcomeProcessed
		}
		log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to persist failure")
		return gwevent.OutcomeError
	}
	if s.metrics != nil {
		s.metrics.PaymentsFailed.WithLabelValues(p.Gateway).Inc()
	}
	log.Info().Str("payment_id", p.ID).Msg("payment marked failed")
	return gwevent.OutcomeProcessed
}

func (s *WebhookService) handleRenewalConfirmed(ctx context.Context, gatewayName string, d gwevent.Details, log zerolog.Logger) gwevent.Outcome {
	subscriptionID, err := renewal.ParsePeriodOrderRef(d.OrderRef)
	if err != nil {
		log.Error().Err(err).Msg("renewal confirmation with unparsable order reference")
		return gwevent.OutcomeError
	}

	p, err := s.payments.GetByOrderRef(ctx, d.OrderRef)
	if err != nil {
		log.Error().Err(err).Msg("renewal payment not found: reconciliation gap")
		return gwevent.OutcomeError
	}

	p = applyDetails(p, d)
	res, err := payment.Complete(p, d.TransactionRef, d.RawResponse, s.clock.Now())
	if err != nil {
		if errors.Is(err, payment.ErrInconsistentTransactionRef) {
			log.Error().
				Bool("manual_reconciliation", true).
				Str("payment_id", p.ID).
				Msg("renewal order reference confirmed twice with different transaction ids")
		} else {
			log.Error().Err(err).Str("payment_id", p.ID).Msg("renewal confirmation does not apply")
		}
		return gwevent.OutcomeError
	}

	if res.Changed {
		if err := s.payments.Update(ctx, res.Payment, res.Expect); err != nil {
			if errors.Is(err, ports.ErrStale) {
				return s.handleRenewalConfirmed(ctx, gatewayName, d, log)
			}
			log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to persist renewal completion")
			return gwevent.OutcomeError
		}
		if s.metrics != nil {
			s.metrics.PaymentsCompleted.WithLabelValues(gatewayName).Inc()
		}

		// Extend only on the delivery that actually flipped the payment;
		// redeliveries stop at the no-op above.
		if _, err := s.subscriptions.ApplyRenewal(ctx, subscriptionID); err != nil {
			log.Error().Err(err).Str("subscription_id", subscriptionID).
				Msg("renewal extension failed after completed charge: reconciliation gap")
			return gwevent.OutcomeError
		}
	}

	if _, err := s.invoices.GenerateForPayment(ctx, res.Payment.ID); err != nil {
		log.Error().Err(err).Str("payment_id", res.Payment.ID).Msg("renewal invoice generation failed")
		return gwevent.OutcomeError
	}

	log.Info().Str("subscription_id", subscriptionID).Msg("renewal confirmed")
	return gwevent.OutcomeProcessed
}

func (s *WebhookService) handleRenewalFailed(ctx context.Context, d gwevent.Details, log zerolog.Logger) gwevent.Outcome {
	if out := s.handlePaymentFailed(ctx, d, log); out != gwevent.OutcomeProcessed {
		return out
	}

	subscriptionID, err := renewal.ParsePeriodOrderRef(d.OrderRef)
	if err != nil {
		log.Error().Err(err).Msg("renewal failure with unparsable order reference")
		return gwevent.OutcomeError
	}
	if err := s.renewals.HandleFailure(ctx, subscriptionID); err != nil {
		log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("failure escalation failed")
		return gwevent.OutcomeError
	}
	return gwevent.OutcomeProcessed
}

func (s *WebhookService) handleCancellation(ctx context.Context, d gwevent.Details, log zerolog.Logger) gwevent.Outcome {
	subscriptionID := d.SubscriptionRef
	if subscriptionID == "" && renewal.IsRenewalRef(d.OrderRef) {
		subscriptionID, _ = renewal.ParsePeriodOrderRef(d.OrderRef)
	}
	if subscriptionID == "" {
		log.Error().Msg("cancellation event without subscription reference")
		return gwevent.OutcomeError
	}

	if _, err := s.subscriptions.Cancel(ctx, subscriptionID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			log.Error().Err(err).Str("subscription_id", subscriptionID).
				Msg("subscription not found for cancellation: reconciliation gap")
		} else {
			log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("cancellation failed")
		}
		return gwevent.OutcomeError
	}
	return gwevent.OutcomeProcessed
}

// applyDetails copies gateway-reported payment attributes onto the row
// before a transition is computed.
func applyDetails(p payment.Payment, d gwevent.Details) payment.Payment {
	if d.BankCode != "" {
		p.BankCode = d.BankCode
	}
	if d.CardType != "" {
		p.CardType = d.CardType
	}
	return p
}

func (s *WebhookService) finish(ctx context.Context, auditID string, outcome gwevent.Outcome, errMsg string) {
	if err := s.events.Finish(ctx, auditID, outcome, errMsg, s.clock.Now()); err != nil {
		s.logger.Error().Err(err).Str("audit_id", auditID).Msg("failed to record event outcome")
	}
}

func (s *WebhookService) ack(gatewayName string, outcome gwevent.Outcome) Ack {
	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(gatewayName, string(outcome)).Inc()
	}
	return Ack{Outcome: outcome, Recorded: true}
}
