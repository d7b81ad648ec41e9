// Package gwevent provides inbound gateway event value types.
// Events are the audit/dedup records for asynchronous gateway confirmations:
// unique on (gateway, event id) so at-least-once delivery is safe.
package gwevent

import "time"

// Kind classifies what a gateway event means for the billing engine.
type Kind string

const (
	KindPurchaseConfirmed Kind = "purchase_confirmed"
	KindPurchaseFailed    Kind = "purchase_failed"
	KindRenewalConfirmed  Kind = "renewal_confirmed"
	KindRenewalFailed     Kind = "renewal_failed"
	KindCancellation      Kind = "cancellation"
	KindUnknown           Kind = "unknown"
)

// Outcome records how an inbound event was processed.
type Outcome string

const (
	OutcomeReceived  Outcome = "RECEIVED"
	OutcomeProcessed Outcome = "PROCESSED"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeRejected  Outcome = "REJECTED" // invalid signature
	OutcomeIgnored   Outcome = "IGNORED"  // unknown event type, acked
	OutcomeError     Outcome = "ERROR"    // business processing failed, acked
)

// Event is the persisted audit record for one inbound delivery.
type Event struct {
	ID      string
	Gateway string
	EventID string // gateway-assigned event id; unique per gateway
	Kind    Kind
	Payload string // raw payload as received

	Outcome Outcome
	Error   string

	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// Parsed is a verified, decoded gateway event. Produced by a gateway
// adapter's VerifyInbound; consumed by the webhook processor.
type Parsed struct {
	EventID string
	Kind    Kind
	Raw     string
}

// Details carries the business payload extracted from a parsed event.
type Details struct {
	OrderRef        string
	TransactionRef  string
	Succeeded       bool
	Amount          int64 // minor currency units
	Currency        string
	BankCode        string
	CardType        string
	SubscriptionRef string // set by cancellation events when known
	RawResponse     string // gateway response snapshot for the payment row
}
