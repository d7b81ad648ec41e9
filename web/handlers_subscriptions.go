package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/subscription"
	"github.com/artpar/billgate/ports"
)

// GetActiveSubscription returns the current usable subscription for a
// (payer, org) pair with live quota counters.
func (h *Handler) GetActiveSubscription(w http.ResponseWriter, r *http.Request) {
	payerID := r.URL.Query().Get("payer")
	if payerID == "" {
		writeError(w, http.StatusBadRequest, "payer is required")
		return
	}
	orgID := r.URL.Query().Get("org")

	sub, err := h.subscriptions.GetActive(r.Context(), payerID, orgID)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "no active subscription")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("payer_id", payerID).Msg("active subscription lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

type consumeQuotaRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Quota          string `json:"quota"`
	Amount         int64  `json:"amount"`
}

// ConsumeQuota executes the atomic quota check-and-decrement. Quota
// exhaustion answers 409 with an upgrade hint; it is a business outcome,
// not a server error.
func (h *Handler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	var req consumeQuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SubscriptionID == "" {
		writeError(w, http.StatusBadRequest, "subscription_id is required")
		return
	}
	quota, err := catalog.ParseQuotaType(req.Quota)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown quota type")
		return
	}

	sub, err := h.subscriptions.Consume(r.Context(), req.SubscriptionID, quota, req.Amount)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	case errors.Is(err, subscription.ErrInsufficientQuota):
		writeError(w, http.StatusConflict, "insufficient quota")
		return
	case errors.Is(err, subscription.ErrNotUsable):
		writeError(w, http.StatusGone, "subscription not usable")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("subscription_id", req.SubscriptionID).Msg("quota consume failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// CancelSubscription turns off auto-renew and terminalizes the
// subscription. Idempotent.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.subscriptions.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("subscription_id", id).Msg("cancel failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}
