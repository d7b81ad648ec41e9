package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/subscription"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// paymentResponse is the caller-visible payment snapshot.
type paymentResponse struct {
	ID             string     `json:"id"`
	OrderRef       string     `json:"order_ref"`
	PackageID      string     `json:"package_id"`
	Gateway        string     `json:"gateway"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	TransactionRef string     `json:"transaction_ref,omitempty"`
	PayURL         string     `json:"pay_url,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toPaymentResponse(p payment.Payment, payURL string) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		OrderRef:       p.OrderRef,
		PackageID:      p.PackageID,
		Gateway:        p.Gateway,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		TransactionRef: p.TransactionRef,
		PayURL:         payURL,
		ExpiresAt:      p.ExpiresAt,
		PaidAt:         p.PaidAt,
		CreatedAt:      p.CreatedAt,
	}
}

// subscriptionResponse is the caller-visible subscription snapshot with
// live quota counters.
type subscriptionResponse struct {
	ID                string     `json:"id"`
	PayerID           string     `json:"payer_id"`
	OrgID             string     `json:"org_id,omitempty"`
	PackageID         string     `json:"package_id"`
	Status            string     `json:"status"`
	AutoRenew         bool       `json:"auto_renew"`
	StartAt           time.Time  `json:"start_at"`
	EndAt             time.Time  `json:"end_at"`
	GraceEndsAt       *time.Time `json:"grace_ends_at,omitempty"`
	JobPostsRemaining int64      `json:"job_posts_remaining"`
	FeaturedRemaining int64      `json:"featured_remaining"`
	UrgentRemaining   int64      `json:"urgent_remaining"`
	CVViewsRemaining  int64      `json:"cv_views_remaining"`
}

func toSubscriptionResponse(s subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                s.ID,
		PayerID:           s.PayerID,
		OrgID:             s.OrgID,
		PackageID:         s.PackageID,
		Status:            string(s.Status),
		AutoRenew:         s.AutoRenew,
		StartAt:           s.StartAt,
		EndAt:             s.EndAt,
		GraceEndsAt:       s.GraceEndsAt,
		JobPostsRemaining: s.JobPostsRemaining,
		FeaturedRemaining: s.FeaturedRemaining,
		UrgentRemaining:   s.UrgentRemaining,
		CVViewsRemaining:  s.CVViewsRemaining,
	}
}
