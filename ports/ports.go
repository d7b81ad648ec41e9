// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/domain/invoice"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/subscription"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// Common store errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// PackageStore reads the purchasable package catalog (reference data).
type PackageStore interface {
	// Get retrieves a package by ID.
	Get(ctx context.Context, id string) (catalog.Package, error)

	// GetByCode retrieves a package by its unique code.
	GetByCode(ctx context.Context, code string) (catalog.Package, error)

	// ListActive returns all active packages.
	ListActive(ctx context.Context) ([]catalog.Package, error)

	// Create stores a package (seeding/administration only).
	Create(ctx context.Context, p catalog.Package) error
}

// PaymentStore persists payment attempts.
type PaymentStore interface {
	// Get retrieves a payment by ID.
	Get(ctx context.Context, id string) (payment.Payment, error)

	// GetByOrderRef retrieves a payment by its unique order reference.
	GetByOrderRef(ctx context.Context, orderRef string) (payment.Payment, error)

	// Create stores a new payment. Returns ErrDuplicate when the order
	// reference already exists.
	Create(ctx context.Context, p payment.Payment) error

	// Update writes a payment guarded on its expected prior status
	// (compare-and-swap). Returns ErrStale when the row no longer holds
	// the expected status.
	Update(ctx context.Context, p payment.Payment, expect payment.Status) error

	// ListPendingBefore returns PENDING payments whose TTL elapsed before
	// cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error)

	// ListStaleRenewals returns PROCESSING renewal charges created before
	// cutoff that never confirmed.
	ListStaleRenewals(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error)

	// ListCompletedWithoutInvoice returns COMPLETED payments older than
	// cutoff that have no invoice yet.
	ListCompletedWithoutInvoice(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error)
}

// ErrStale is returned by compare-and-swap updates when the stored row no
// longer holds the expected predecessor status.
var ErrStale = errors.New("stale update: status changed concurrently")

// ConsumeRequest describes one quota consumption.
type ConsumeRequest struct {
	SubscriptionID string
	Quota          catalog.QuotaType
	Amount         int64
}

// SubscriptionStore persists subscriptions and owns the atomic quota
// transaction.
type SubscriptionStore interface {
	// Get retrieves a subscription by ID.
	Get(ctx context.Context, id string) (subscription.Subscription, error)

	// GetByPaymentID retrieves the subscription created by a payment, if
	// any. Used for idempotent activation.
	GetByPaymentID(ctx context.Context, paymentID string) (subscription.Subscription, error)

	// GetActive returns the newest usable subscription for a
	// (payer, organization) pair.
	GetActive(ctx context.Context, payerID, orgID string, now time.Time) (subscription.Subscription, error)

	// Create stores a new subscription.
	Create(ctx context.Context, s subscription.Subscription) error

	// Update writes a subscription.
	Update(ctx context.Context, s subscription.Subscription) error

	// Consume executes the quota check-and-decrement as a single atomic
	// transaction holding an exclusive lock on the subscription row. The
	// unlimited sentinel is resolved against the package allotment. Returns
	// the post-decrement subscription, subscription.ErrInsufficientQuota,
	// or subscription.ErrNotUsable.
	Consume(ctx context.Context, req ConsumeRequest, now time.Time) (subscription.Subscription, error)

	// ListRenewalDue returns ACTIVE auto-renew subscriptions ending within
	// [now, now+lookahead].
	ListRenewalDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]subscription.Subscription, error)

	// ListExpired returns ACTIVE non-auto-renew subscriptions past their
	// end.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error)

	// ListGraceLapsed returns PAST_DUE subscriptions whose grace window
	// closed before now.
	ListGraceLapsed(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error)

	// ListEndingOn returns non-auto-renew ACTIVE subscriptions ending
	// within the given day (renewal reminders).
	ListEndingOn(ctx context.Context, dayStart, dayEnd time.Time) ([]subscription.Subscription, error)
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	// Get retrieves an invoice by ID.
	Get(ctx context.Context, id string) (invoice.Invoice, error)

	// GetByPaymentID retrieves the invoice for a payment.
	GetByPaymentID(ctx context.Context, paymentID string) (invoice.Invoice, error)

	// Create stores a new invoice. Returns ErrDuplicate when an invoice
	// already references the same payment.
	Create(ctx context.Context, inv invoice.Invoice) error
}

// EventStore persists inbound gateway events (audit + dedup).
type EventStore interface {
	// Create stores a new audit row, before verification.
	Create(ctx context.Context, ev gwevent.Event) error

	// ClaimEventID sets the verified gateway event id and kind on an audit
	// row. The (gateway, event_id) pair is unique; concurrent duplicate
	// deliveries race here and the loser receives ErrDuplicate.
	ClaimEventID(ctx context.Context, id, eventID string, kind gwevent.Kind) error

	// Finish records the processing outcome.
	Finish(ctx context.Context, id string, outcome gwevent.Outcome, errMsg string, at time.Time) error

	// Get retrieves an audit row by ID.
	Get(ctx context.Context, id string) (gwevent.Event, error)

	// PurgeOlderThan deletes audit rows received before cutoff. Returns
	// the number of rows removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// SessionRequest asks a gateway for a payer-facing checkout.
type SessionRequest struct {
	OrderRef    string
	Amount      int64 // minor currency units
	Currency    string
	Description string
	ReturnURL   string
	BankCode    string // optional hint for redirect gateways
	ClientIP    string
	Metadata    map[string]string
}

// SessionResult is the gateway's answer: where to send the payer.
type SessionResult struct {
	ExternalRef string // gateway session/transaction reference
	PayerURL    string // redirect or hosted-checkout URL
}

// ChargeRequest asks a gateway to charge a saved payment method
// (renewals only).
type ChargeRequest struct {
	OrderRef    string
	CustomerRef string // gateway customer with a saved method
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// ErrChargeUnsupported is returned by gateways without saved payment
// methods (redirect-style gateways).
var ErrChargeUnsupported = errors.New("gateway does not support saved-method charges")

// ErrGatewayUnavailable is a transient gateway failure; retryable for
// coordinator-initiated charges, never for webhook ingestion.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// ErrSignatureInvalid means an inbound payload failed signature
// verification. Treated as a security event.
var ErrSignatureInvalid = errors.New("invalid gateway signature")

// GatewayProvider is the uniform interface over heterogeneous payment
// gateways. Redirect-style and hosted-session gateways both route inbound
// confirmations through VerifyInbound + ExtractDetails so the webhook
// processor treats them uniformly.
type GatewayProvider interface {
	// Name returns the gateway identifier (e.g. "stripe", "payvn").
	Name() string

	// CreateSession obtains a payer-facing URL for a new payment.
	CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error)

	// ChargeSaved charges a saved payment method off-session. Returns
	// ErrChargeUnsupported for redirect gateways.
	ChargeSaved(ctx context.Context, req ChargeRequest) (externalRef string, err error)

	// VerifyInbound validates a raw inbound payload. The signature check
	// must use a constant-time comparison. Returns ErrSignatureInvalid on
	// failure.
	VerifyInbound(payload []byte, signature string) (gwevent.Parsed, error)

	// ExtractDetails pulls the business outcome out of a verified event.
	ExtractDetails(ev gwevent.Parsed) gwevent.Details
}

// BuyerDirectory resolves payer identifiers to invoice buyer snapshots.
// Identity lives outside this module; the directory is caller-supplied.
type BuyerDirectory interface {
	Lookup(ctx context.Context, payerID string) (invoice.Buyer, error)
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To       string
	Subject  string
	TextBody string
}

// EmailSender sends billing notices.
type EmailSender interface {
	// Send sends an email.
	Send(ctx context.Context, msg EmailMessage) error

	// SendNotice renders and sends a named billing notice.
	SendNotice(ctx context.Context, to, notice string, vars map[string]string) error
}

// -----------------------------------------------------------------------------
// Job Queue Ports
// -----------------------------------------------------------------------------

// Job is a unit of asynchronous work. Handlers must be idempotent: the
// queue delivers at least once.
type Job struct {
	Type    string
	Payload map[string]string
	Attempt int
}

// JobHandler processes one job delivery. A non-nil error triggers
// redelivery with backoff until the attempt limit.
type JobHandler func(ctx context.Context, job Job) error

// JobQueue schedules idempotent jobs with not-before semantics. The queue
// owns backoff scheduling; handlers stay pure retries.
type JobQueue interface {
	// Enqueue schedules a job to run no earlier than notBefore.
	Enqueue(ctx context.Context, job Job, notBefore time.Time) error

	// Handle registers the handler for a job type. Must be called before
	// Start.
	Handle(jobType string, h JobHandler)

	// Start begins delivering jobs.
	Start()

	// Close stops delivery and waits for in-flight handlers.
	Close() error
}
