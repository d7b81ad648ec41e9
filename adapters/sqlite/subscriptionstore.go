package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/subscription"
	"github.com/artpar/billgate/ports"
)

// SubscriptionStore implements ports.SubscriptionStore using SQLite.
type SubscriptionStore struct {
	db *DB
}

// NewSubscriptionStore creates a new SQLite subscription store.
func NewSubscriptionStore(db *DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `
	id, payer_id, org_id, package_id, payment_id, start_at, end_at,
	job_posts_remaining, featured_remaining, urgent_remaining, cv_views_remaining,
	status, auto_renew, payment_retry_count, grace_ends_at,
	created_at, updated_at, cancelled_at`

// Get retrieves a subscription by ID.
func (s *SubscriptionStore) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = ?
	`, id)
	return scanSubscription(row)
}

// GetByPaymentID retrieves the subscription created by a payment.
func (s *SubscriptionStore) GetByPaymentID(ctx context.Context, paymentID string) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE payment_id = ?
	`, paymentID)
	return scanSubscription(row)
}

// GetActive returns the newest usable subscription for a (payer, org) pair:
// ACTIVE within its period, or PAST_DUE within its grace window.
func (s *SubscriptionStore) GetActive(ctx context.Context, payerID, orgID string, now time.Time) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE payer_id = ? AND org_id = ?
		  AND (
			(status = 'ACTIVE' AND end_at >= ?)
			OR (status = 'PAST_DUE' AND grace_ends_at IS NOT NULL AND grace_ends_at > ?)
		  )
		ORDER BY created_at DESC
		LIMIT 1
	`, payerID, orgID, now, now)
	return scanSubscription(row)
}

// Create stores a new subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub subscription.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, payer_id, org_id, package_id, payment_id, start_at, end_at,
			job_posts_remaining, featured_remaining, urgent_remaining, cv_views_remaining,
			status, auto_renew, payment_retry_count, grace_ends_at,
			created_at, updated_at, cancelled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID, sub.PayerID, sub.OrgID, sub.PackageID, sub.PaymentID,
		sub.StartAt, sub.EndAt,
		sub.JobPostsRemaining, sub.FeaturedRemaining, sub.UrgentRemaining, sub.CVViewsRemaining,
		string(sub.Status), boolToInt(sub.AutoRenew), sub.PaymentRetryCount,
		nullTime(sub.GraceEndsAt), sub.CreatedAt, sub.UpdatedAt, nullTime(sub.CancelledAt),
	)

	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Update writes a subscription.
func (s *SubscriptionStore) Update(ctx context.Context, sub subscription.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET end_at = ?, job_posts_remaining = ?, featured_remaining = ?,
		    urgent_remaining = ?, cv_views_remaining = ?, status = ?,
		    auto_renew = ?, payment_retry_count = ?, grace_ends_at = ?,
		    updated_at = ?, cancelled_at = ?
		WHERE id = ?
	`,
		sub.EndAt, sub.JobPostsRemaining, sub.FeaturedRemaining,
		sub.UrgentRemaining, sub.CVViewsRemaining, string(sub.Status),
		boolToInt(sub.AutoRenew), sub.PaymentRetryCount, nullTime(sub.GraceEndsAt),
		sub.UpdatedAt, nullTime(sub.CancelledAt), sub.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

var quotaColumn = map[catalog.QuotaType]string{
	catalog.QuotaJobPosts: "job_posts_remaining",
	catalog.QuotaFeatured: "featured_remaining",
	catalog.QuotaUrgent:   "urgent_remaining",
	catalog.QuotaCVViews:  "cv_views_remaining",
}

var allotmentColumn = map[catalog.QuotaType]string{
	catalog.QuotaJobPosts: "job_posts_quota",
	catalog.QuotaFeatured: "featured_quota",
	catalog.QuotaUrgent:   "urgent_quota",
	catalog.QuotaCVViews:  "cv_views_quota",
}

// Consume executes the quota check-and-decrement inside a single write
// transaction. The write lock is taken up front (txlock=immediate), so the
// read-check-write cannot interleave with concurrent Consume calls on the
// same row. The package allotment is read in the same transaction to decide
// the unlimited sentinel. No external I/O happens while the lock is held.
func (s *SubscriptionStore) Consume(ctx context.Context, req ports.ConsumeRequest, now time.Time) (subscription.Subscription, error) {
	col, ok := quotaColumn[req.Quota]
	if !ok {
		return subscription.Subscription{}, catalog.ErrUnknownQuotaType
	}
	allotCol := allotmentColumn[req.Quota]
	if req.Amount <= 0 {
		req.Amount = 1
	}

	var out subscription.Subscription
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+subscriptionColumns+`
			FROM subscriptions
			WHERE id = ?
		`, req.SubscriptionID)
		sub, err := scanSubscription(row)
		if err != nil {
			return err
		}

		var allotment int64
		err = tx.QueryRowContext(ctx,
			"SELECT "+allotCol+" FROM packages WHERE id = ?",
			sub.PackageID,
		).Scan(&allotment)
		if err != nil {
			return fmt.Errorf("load package allotment: %w", err)
		}

		switch subscription.Decide(sub, allotment, req.Quota, req.Amount, now) {
		case subscription.DecisionNotUsable:
			return subscription.ErrNotUsable
		case subscription.DecisionInsufficient:
			return subscription.ErrInsufficientQuota
		case subscription.DecisionUnlimited:
			out = sub
			return nil
		}

		remaining := sub.Remaining(req.Quota) - req.Amount
		_, err = tx.ExecContext(ctx,
			"UPDATE subscriptions SET "+col+" = ?, updated_at = ? WHERE id = ?",
			remaining, now.UTC(), sub.ID,
		)
		if err != nil {
			return err
		}
		sub.SetRemaining(req.Quota, remaining)
		sub.UpdatedAt = now.UTC()
		out = sub
		return nil
	})
	if err != nil {
		return subscription.Subscription{}, err
	}
	return out, nil
}

// ListRenewalDue returns ACTIVE auto-renew subscriptions ending within the
// lookahead window.
func (s *SubscriptionStore) ListRenewalDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'ACTIVE' AND auto_renew = 1 AND end_at >= ? AND end_at <= ?
		ORDER BY end_at
		LIMIT ?
	`, now, now.Add(lookahead), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListExpired returns ACTIVE non-auto-renew subscriptions past their end.
func (s *SubscriptionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'ACTIVE' AND auto_renew = 0 AND end_at < ?
		ORDER BY end_at
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListGraceLapsed returns PAST_DUE subscriptions whose grace window closed.
func (s *SubscriptionStore) ListGraceLapsed(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'PAST_DUE' AND (grace_ends_at IS NULL OR grace_ends_at <= ?)
		ORDER BY grace_ends_at
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListEndingOn returns non-auto-renew ACTIVE subscriptions ending within the
// given day window.
func (s *SubscriptionStore) ListEndingOn(ctx context.Context, dayStart, dayEnd time.Time) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'ACTIVE' AND auto_renew = 0 AND end_at >= ? AND end_at < ?
		ORDER BY end_at
	`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscription(row rowScanner) (subscription.Subscription, error) {
	var sub subscription.Subscription
	var status string
	var autoRenew int
	var graceEndsAt, cancelledAt sql.NullTime

	err := row.Scan(
		&sub.ID, &sub.PayerID, &sub.OrgID, &sub.PackageID, &sub.PaymentID,
		&sub.StartAt, &sub.EndAt,
		&sub.JobPostsRemaining, &sub.FeaturedRemaining, &sub.UrgentRemaining, &sub.CVViewsRemaining,
		&status, &autoRenew, &sub.PaymentRetryCount, &graceEndsAt,
		&sub.CreatedAt, &sub.UpdatedAt, &cancelledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscription{}, ErrNotFound
	}
	if err != nil {
		return subscription.Subscription{}, err
	}

	sub.Status = subscription.Status(status)
	sub.AutoRenew = autoRenew != 0
	sub.GraceEndsAt = timePtr(graceEndsAt)
	sub.CancelledAt = timePtr(cancelledAt)
	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]subscription.Subscription, error) {
	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
