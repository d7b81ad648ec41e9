// Package web provides the JSON HTTP surface of the billing engine.
// Handlers stay thin: decode, call the app service, encode. Signature
// verification for webhooks happens inside the webhook service, never here.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/metrics"
	"github.com/artpar/billgate/app"
	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/subscription"
)

// PaymentAPI is the slice of the payment service the handlers need.
type PaymentAPI interface {
	CreatePayment(ctx context.Context, req app.CreatePaymentRequest) (payment.Payment, string, error)
	GetStatus(ctx context.Context, paymentID string) (payment.Payment, error)
	GetByOrderRef(ctx context.Context, orderRef string) (payment.Payment, error)
}

// SubscriptionAPI is the slice of the subscription service the handlers need.
type SubscriptionAPI interface {
	GetActive(ctx context.Context, payerID, orgID string) (subscription.Subscription, error)
	Consume(ctx context.Context, subscriptionID string, quota catalog.QuotaType, amount int64) (subscription.Subscription, error)
	Cancel(ctx context.Context, subscriptionID string) (subscription.Subscription, error)
}

// WebhookAPI ingests inbound gateway deliveries.
type WebhookAPI interface {
	Handle(ctx context.Context, gatewayName string, payload []byte, signature string) (app.Ack, error)
}

// RedirectPages holds the browser destinations for the redirect-return
// path of redirect-style gateways.
type RedirectPages struct {
	SuccessURL string
	FailureURL string
}

// Handler provides the billing HTTP endpoints.
type Handler struct {
	payments      PaymentAPI
	subscriptions SubscriptionAPI
	webhooks      WebhookAPI
	redirects     RedirectPages
	logger        zerolog.Logger
}

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Payments      PaymentAPI
	Subscriptions SubscriptionAPI
	Webhooks      WebhookAPI
	Redirects     RedirectPages
	Logger        zerolog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		payments:      deps.Payments,
		subscriptions: deps.Subscriptions,
		webhooks:      deps.Webhooks,
		redirects:     deps.Redirects,
		logger:        deps.Logger.With().Str("component", "web").Logger(),
	}
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics        *metrics.Collector // in-flight request tracking when set
	MetricsHandler http.Handler       // /metrics; defaults to promhttp.Handler when nil
}

// NewRouter creates the main HTTP router.
func NewRouter(h *Handler, logger zerolog.Logger) chi.Router {
	return NewRouterWithConfig(h, logger, RouterConfig{})
}

// NewRouterWithConfig creates the main HTTP router with optional config.
func NewRouterWithConfig(h *Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.Metrics != nil {
		r.Use(NewInFlightMiddleware(cfg.Metrics))
	}

	r.Get("/healthz", h.Healthz)

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/payments", h.CreatePayment)
	r.Get("/payments/{id}", h.GetPayment)

	r.Get("/subscriptions/active", h.GetActiveSubscription)
	r.Post("/subscriptions/{id}/cancel", h.CancelSubscription)
	r.Post("/quota/consume", h.ConsumeQuota)

	// Gateway callbacks. Not authenticated: signature verification happens
	// inside the webhook service.
	r.Post("/webhooks/{gateway}", h.HandleWebhook)
	r.Get("/redirect-return/{gateway}", h.HandleRedirectReturn)

	return r
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
