// Package catalog provides purchasable package value types and pure functions.
// Packages are reference data: immutable once a payment references them.
package catalog

import (
	"errors"
	"time"
)

// QuotaType identifies one of the four consumable quotas a package grants.
type QuotaType string

const (
	QuotaJobPosts QuotaType = "job_posts"
	QuotaFeatured QuotaType = "featured"
	QuotaUrgent   QuotaType = "urgent"
	QuotaCVViews  QuotaType = "cv_views"
)

// ErrUnknownQuotaType is returned for quota type strings outside the four
// known types.
var ErrUnknownQuotaType = errors.New("unknown quota type")

// ParseQuotaType validates a quota type string.
func ParseQuotaType(s string) (QuotaType, error) {
	switch QuotaType(s) {
	case QuotaJobPosts, QuotaFeatured, QuotaUrgent, QuotaCVViews:
		return QuotaType(s), nil
	}
	return "", ErrUnknownQuotaType
}

// QuotaTypes lists all quota types in display order.
func QuotaTypes() []QuotaType {
	return []QuotaType{QuotaJobPosts, QuotaFeatured, QuotaUrgent, QuotaCVViews}
}

// Package represents a purchasable package (value type).
// An allotment of 0 means unlimited, not zero grants. Callers deciding
// "unlimited vs exhausted" must consult the package allotment, never a
// subscription's remaining counter.
type Package struct {
	ID            string
	Code          string
	Name          string
	Description   string
	Price         int64 // minor currency units
	DiscountPrice int64 // minor currency units, 0 = no discount
	Currency      string
	DurationDays  int

	JobPostsQuota int64
	FeaturedQuota int64
	UrgentQuota   int64
	CVViewsQuota  int64

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FinalPrice returns the price after discount.
func (p Package) FinalPrice() int64 {
	if p.DiscountPrice > 0 {
		return p.DiscountPrice
	}
	return p.Price
}

// Duration returns the entitlement duration.
func (p Package) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Allotment returns the package allotment for a quota type.
func (p Package) Allotment(q QuotaType) int64 {
	switch q {
	case QuotaJobPosts:
		return p.JobPostsQuota
	case QuotaFeatured:
		return p.FeaturedQuota
	case QuotaUrgent:
		return p.UrgentQuota
	case QuotaCVViews:
		return p.CVViewsQuota
	}
	return 0
}

// Unlimited reports whether a quota type is unlimited under this package.
func (p Package) Unlimited(q QuotaType) bool {
	return p.Allotment(q) == 0
}
