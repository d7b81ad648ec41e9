// Package app contains the billing services. Services orchestrate the pure
// domain functions against the stores; all I/O happens at the edges via
// injected ports.
package app

import (
	"strings"
	"time"
)

// Policy holds the time-based billing policy knobs. Values come from
// config; DefaultPolicy fills anything left zero.
type Policy struct {
	// PendingTTL is how long a PENDING payment may wait for confirmation.
	PendingTTL time.Duration

	// RenewalLookahead selects subscriptions ending within this window for
	// renewal charging.
	RenewalLookahead time.Duration

	// ConfirmWindow bounds how long a PROCESSING renewal charge may wait
	// for its confirmation before the coordinator treats it as failed.
	ConfirmWindow time.Duration

	// GracePeriod is the PAST_DUE window granted on the first renewal
	// failure.
	GracePeriod time.Duration

	// EventRetention is how long inbound gateway event audit rows are kept.
	EventRetention time.Duration

	// ReminderLead is how far before expiry non-auto-renew holders get a
	// renewal reminder.
	ReminderLead time.Duration

	// InvoiceBackfillAge is how old a COMPLETED payment must be before the
	// sweeper backfills a missing invoice.
	InvoiceBackfillAge time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		PendingTTL:         15 * time.Minute,
		RenewalLookahead:   24 * time.Hour,
		ConfirmWindow:      24 * time.Hour,
		GracePeriod:        7 * 24 * time.Hour,
		EventRetention:     90 * 24 * time.Hour,
		ReminderLead:       7 * 24 * time.Hour,
		InvoiceBackfillAge: time.Hour,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.PendingTTL <= 0 {
		p.PendingTTL = def.PendingTTL
	}
	if p.RenewalLookahead <= 0 {
		p.RenewalLookahead = def.RenewalLookahead
	}
	if p.ConfirmWindow <= 0 {
		p.ConfirmWindow = def.ConfirmWindow
	}
	if p.GracePeriod <= 0 {
		p.GracePeriod = def.GracePeriod
	}
	if p.EventRetention <= 0 {
		p.EventRetention = def.EventRetention
	}
	if p.ReminderLead <= 0 {
		p.ReminderLead = def.ReminderLead
	}
	if p.InvoiceBackfillAge <= 0 {
		p.InvoiceBackfillAge = def.InvoiceBackfillAge
	}
	return p
}

// makeOrderRef derives a caller-visible order reference from a generated id:
// "ORD" plus 12 uppercase hex characters.
func makeOrderRef(id string) string {
	const width = 12
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
			if b.Len() == width {
				break
			}
		}
	}
	ref := b.String()
	for len(ref) < width {
		ref += "0"
	}
	return "ORD" + ref
}
