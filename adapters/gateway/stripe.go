// Package gateway provides payment gateway adapters.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/domain/renewal"
	"github.com/artpar/billgate/ports"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeProvider implements ports.GatewayProvider for Stripe. Purchases go
// through hosted Checkout sessions; renewals charge saved payment methods
// off-session via PaymentIntents.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	stripe.Key = config.SecretKey
	return &StripeProvider{config: config}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateSession creates a hosted Checkout session.
func (p *StripeProvider) CreateSession(ctx context.Context, req ports.SessionRequest) (ports.SessionResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(req.ReturnURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("order_ref", req.OrderRef)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Params.Context = ctx

	s, err := checkoutsession.New(params)
	if err != nil {
		return ports.SessionResult{}, p.mapError(err)
	}

	return ports.SessionResult{
		ExternalRef: s.ID,
		PayerURL:    s.URL,
	}, nil
}

// ChargeSaved charges a customer's saved payment method off-session.
func (p *StripeProvider) ChargeSaved(ctx context.Context, req ports.ChargeRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Customer:    stripe.String(req.CustomerRef),
		Confirm:     stripe.Bool(true),
		OffSession:  stripe.Bool(true),
		Description: stripe.String(req.Description),
	}
	params.AddMetadata("order_ref", req.OrderRef)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", p.mapError(err)
	}
	return pi.ID, nil
}

// VerifyInbound validates the Stripe-Signature header and classifies the
// event. webhook.ConstructEvent performs a constant-time HMAC comparison.
func (p *StripeProvider) VerifyInbound(payload []byte, signature string) (gwevent.Parsed, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.config.WebhookSecret)
	if err != nil {
		return gwevent.Parsed{}, fmt.Errorf("%w: %v", ports.ErrSignatureInvalid, err)
	}

	var obj stripeObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return gwevent.Parsed{}, fmt.Errorf("decode event object: %w", err)
	}

	return gwevent.Parsed{
		EventID: event.ID,
		Kind:    classifyStripeEvent(string(event.Type), obj.Metadata["order_ref"]),
		Raw:     string(payload),
	}, nil
}

// ExtractDetails pulls the business outcome out of a verified event.
func (p *StripeProvider) ExtractDetails(ev gwevent.Parsed) gwevent.Details {
	var envelope struct {
		Type string `json:"type"`
		Data struct {
			Raw json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(ev.Raw), &envelope); err != nil {
		return gwevent.Details{RawResponse: ev.Raw}
	}
	var obj stripeObject
	if err := json.Unmarshal(envelope.Data.Raw, &obj); err != nil {
		return gwevent.Details{RawResponse: ev.Raw}
	}

	d := gwevent.Details{
		OrderRef:        obj.Metadata["order_ref"],
		Currency:        strings.ToUpper(obj.Currency),
		SubscriptionRef: obj.Metadata["subscription_id"],
		RawResponse:     ev.Raw,
	}

	switch envelope.Type {
	case "checkout.session.completed":
		d.Succeeded = obj.PaymentStatus == "paid" || obj.PaymentStatus == "no_payment_required"
		d.Amount = obj.AmountTotal
		d.TransactionRef = obj.PaymentIntent
		if d.TransactionRef == "" {
			d.TransactionRef = obj.ID
		}
	case "payment_intent.succeeded":
		d.Succeeded = true
		d.Amount = obj.Amount
		d.TransactionRef = obj.ID
	case "payment_intent.payment_failed":
		d.Amount = obj.Amount
		d.TransactionRef = obj.ID
	}

	return d
}

// stripeObject is the subset of event payload fields this module reads.
// Checkout sessions, payment intents and subscriptions all decode into it.
type stripeObject struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

func classifyStripeEvent(eventType, orderRef string) gwevent.Kind {
	isRenewal := renewal.IsRenewalRef(orderRef)

	switch eventType {
	case "checkout.session.completed":
		if isRenewal {
			return gwevent.KindRenewalConfirmed
		}
		return gwevent.KindPurchaseConfirmed
	case "payment_intent.succeeded":
		if isRenewal {
			return gwevent.KindRenewalConfirmed
		}
		return gwevent.KindPurchaseConfirmed
	case "payment_intent.payment_failed":
		if isRenewal {
			return gwevent.KindRenewalFailed
		}
		return gwevent.KindPurchaseFailed
	case "customer.subscription.deleted":
		return gwevent.KindCancellation
	default:
		return gwevent.KindUnknown
	}
}

// mapError translates stripe transport failures to the transient gateway
// error so callers can retry charges.
func (p *StripeProvider) mapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: %v", ports.ErrGatewayUnavailable, err)
		}
		return err
	}
	// Non-API errors from the client are connection level.
	return fmt.Errorf("%w: %v", ports.ErrGatewayUnavailable, err)
}

var _ ports.GatewayProvider = (*StripeProvider)(nil)
