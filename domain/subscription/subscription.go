// Package subscription provides subscription value types and the pure quota
// decision function. All functions are deterministic with no side effects;
// the atomic read-check-write lives in the store.
package subscription

import (
	"errors"
	"time"

	"github.com/artpar/billgate/domain/catalog"
)

// Status represents subscription state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPastDue   Status = "PAST_DUE"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

var (
	// ErrInsufficientQuota is a normal business outcome, not a system error.
	ErrInsufficientQuota = errors.New("insufficient quota")

	// ErrNotUsable means the subscription cannot serve consumption: not
	// active, past its end, or past its grace period.
	ErrNotUsable = errors.New("subscription not usable")
)

// Subscription represents a time-boxed entitlement with consumable quota
// counters (value type). Every remaining counter is >= 0 at all times.
type Subscription struct {
	ID        string
	PayerID   string
	OrgID     string // optional organization
	PackageID string
	PaymentID string // originating payment

	StartAt time.Time
	EndAt   time.Time

	JobPostsRemaining int64
	FeaturedRemaining int64
	UrgentRemaining   int64
	CVViewsRemaining  int64

	Status            Status
	AutoRenew         bool
	PaymentRetryCount int
	GraceEndsAt       *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// Remaining returns the live counter for a quota type.
func (s Subscription) Remaining(q catalog.QuotaType) int64 {
	switch q {
	case catalog.QuotaJobPosts:
		return s.JobPostsRemaining
	case catalog.QuotaFeatured:
		return s.FeaturedRemaining
	case catalog.QuotaUrgent:
		return s.UrgentRemaining
	case catalog.QuotaCVViews:
		return s.CVViewsRemaining
	}
	return 0
}

// SetRemaining sets the live counter for a quota type.
func (s *Subscription) SetRemaining(q catalog.QuotaType, v int64) {
	switch q {
	case catalog.QuotaJobPosts:
		s.JobPostsRemaining = v
	case catalog.QuotaFeatured:
		s.FeaturedRemaining = v
	case catalog.QuotaUrgent:
		s.UrgentRemaining = v
	case catalog.QuotaCVViews:
		s.CVViewsRemaining = v
	}
}

// Usable reports whether the subscription can serve consumption at now.
// ACTIVE within its period, or PAST_DUE within its grace window.
func (s Subscription) Usable(now time.Time) bool {
	switch s.Status {
	case StatusActive:
		return !s.EndAt.Before(now)
	case StatusPastDue:
		return s.GraceEndsAt != nil && now.Before(*s.GraceEndsAt)
	}
	return false
}

// GraceLapsed reports whether a PAST_DUE subscription's grace window has
// closed without a successful payment.
func (s Subscription) GraceLapsed(now time.Time) bool {
	return s.Status == StatusPastDue && (s.GraceEndsAt == nil || !now.Before(*s.GraceEndsAt))
}

// Decision is the outcome of a quota check.
type Decision int

const (
	// DecisionNotUsable: subscription cannot serve consumption at all.
	DecisionNotUsable Decision = iota
	// DecisionUnlimited: the package allotment for this type is the
	// unlimited sentinel; succeed without decrementing.
	DecisionUnlimited
	// DecisionAllowed: enough remaining; decrement and succeed.
	DecisionAllowed
	// DecisionInsufficient: remaining counter is below the requested amount.
	DecisionInsufficient
)

// Decide performs the pure quota check. The unlimited sentinel is resolved
// against the package allotment, never the remaining counter, so a remaining
// counter of 0 always means exhausted.
func Decide(s Subscription, allotment int64, q catalog.QuotaType, amount int64, now time.Time) Decision {
	if !s.Usable(now) {
		return DecisionNotUsable
	}
	if allotment == 0 {
		return DecisionUnlimited
	}
	if s.Remaining(q) >= amount {
		return DecisionAllowed
	}
	return DecisionInsufficient
}

// New builds a fresh subscription from a completed purchase, with counters
// seeded from the package allotments.
func New(id, payerID, orgID, paymentID string, pkg catalog.Package, now time.Time) Subscription {
	return Subscription{
		ID:                id,
		PayerID:           payerID,
		OrgID:             orgID,
		PackageID:         pkg.ID,
		PaymentID:         paymentID,
		StartAt:           now,
		EndAt:             now.Add(pkg.Duration()),
		JobPostsRemaining: pkg.JobPostsQuota,
		FeaturedRemaining: pkg.FeaturedQuota,
		UrgentRemaining:   pkg.UrgentQuota,
		CVViewsRemaining:  pkg.CVViewsQuota,
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Renew extends the period by the package duration, refreshes all counters,
// clears the retry counter and grace window, and reactivates.
func Renew(s Subscription, pkg catalog.Package, now time.Time) Subscription {
	base := s.EndAt
	if base.Before(now) {
		base = now
	}
	s.EndAt = base.Add(pkg.Duration())
	s.JobPostsRemaining = pkg.JobPostsQuota
	s.FeaturedRemaining = pkg.FeaturedQuota
	s.UrgentRemaining = pkg.UrgentQuota
	s.CVViewsRemaining = pkg.CVViewsQuota
	s.Status = StatusActive
	s.PaymentRetryCount = 0
	s.GraceEndsAt = nil
	s.UpdatedAt = now
	return s
}
