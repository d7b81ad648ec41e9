// Package renewal provides pure functions for the recurring billing policy:
// due-window selection, per-period dedup references, and the grace-period
// escalation ladder applied on consecutive payment failures.
package renewal

import (
	"errors"
	"strings"
	"time"

	"github.com/artpar/billgate/domain/subscription"
)

// Action is the escalation step taken after a failed renewal charge.
type Action int

const (
	// ActionGrace: first failure. Enter PAST_DUE with a fresh grace window.
	ActionGrace Action = iota
	// ActionUrgent: second and third failures. Stay PAST_DUE, grace window
	// unchanged, urgent notice.
	ActionUrgent
	// ActionCancel: fourth failure. Cancel and revoke entitlement.
	ActionCancel
)

// Notice names the notification template sent for an escalation step.
type Notice string

const (
	NoticeStandard Notice = "payment_failed_grace_period"
	NoticeUrgent   Notice = "payment_failed_urgent"
	NoticeFinal    Notice = "subscription_cancelled_nonpayment"
	NoticeReminder Notice = "subscription_renewal_reminder"
)

// Escalate maps a consecutive-failure count (after increment) to the action
// and notice for that step. This is a PURE function.
func Escalate(failures int) (Action, Notice) {
	switch {
	case failures <= 1:
		return ActionGrace, NoticeStandard
	case failures < 4:
		return ActionUrgent, NoticeUrgent
	default:
		return ActionCancel, NoticeFinal
	}
}

// ApplyFailure increments the retry counter and applies the escalation step
// to the subscription. Returns the updated subscription and the notice to
// send. This is a PURE function.
func ApplyFailure(s subscription.Subscription, gracePeriod time.Duration, now time.Time) (subscription.Subscription, Notice) {
	s.PaymentRetryCount++
	action, notice := Escalate(s.PaymentRetryCount)

	switch action {
	case ActionGrace:
		s.Status = subscription.StatusPastDue
		grace := now.Add(gracePeriod)
		s.GraceEndsAt = &grace
	case ActionUrgent:
		s.Status = subscription.StatusPastDue
		// Grace window deliberately unchanged.
	case ActionCancel:
		s.Status = subscription.StatusCancelled
		s.GraceEndsAt = nil
		s.AutoRenew = false
		cancelled := now
		s.CancelledAt = &cancelled
	}
	s.UpdatedAt = now
	return s, notice
}

// Due reports whether a subscription should be charged for renewal on this
// coordinator run: ACTIVE, auto-renewing, and ending within the lookahead
// window. This is a PURE function.
func Due(s subscription.Subscription, now time.Time, lookahead time.Duration) bool {
	if s.Status != subscription.StatusActive || !s.AutoRenew {
		return false
	}
	return !s.EndAt.Before(now) && !s.EndAt.After(now.Add(lookahead))
}

// PeriodOrderRef builds the order reference for a renewal charge. It doubles
// as the per-period dedup key: unique in the payments table, so a
// coordinator crash between charge and record cannot double-charge a period.
func PeriodOrderRef(subscriptionID string, periodEnd time.Time) string {
	return "RENEW" + subscriptionID + ":" + periodEnd.UTC().Format("20060102")
}

// ErrNotRenewalRef is returned when parsing a non-renewal order reference.
var ErrNotRenewalRef = errors.New("not a renewal order reference")

// IsRenewalRef reports whether an order reference was minted by
// PeriodOrderRef.
func IsRenewalRef(orderRef string) bool {
	return strings.HasPrefix(orderRef, "RENEW")
}

// ParsePeriodOrderRef extracts the subscription id from a renewal order
// reference.
func ParsePeriodOrderRef(orderRef string) (subscriptionID string, err error) {
	if !IsRenewalRef(orderRef) {
		return "", ErrNotRenewalRef
	}
	rest := strings.TrimPrefix(orderRef, "RENEW")
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", ErrNotRenewalRef
	}
	return rest[:i], nil
}
