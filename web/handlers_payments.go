package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/billgate/app"
	"github.com/artpar/billgate/ports"
)

type createPaymentRequest struct {
	PayerID   string `json:"payer_id"`
	OrgID     string `json:"org_id"`
	PackageID string `json:"package_id"`
	Gateway   string `json:"gateway"`
	BankCode  string `json:"bank_code"`
	ReturnURL string `json:"return_url"`
}

// CreatePayment starts a purchase: records a PENDING payment and returns
// the payer-facing gateway URL.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PayerID == "" || req.PackageID == "" || req.Gateway == "" {
		writeError(w, http.StatusBadRequest, "payer_id, package_id and gateway are required")
		return
	}

	p, payURL, err := h.payments.CreatePayment(r.Context(), app.CreatePaymentRequest{
		PayerID:   req.PayerID,
		OrgID:     req.OrgID,
		PackageID: req.PackageID,
		Gateway:   req.Gateway,
		BankCode:  req.BankCode,
		ReturnURL: req.ReturnURL,
		ClientIP:  r.RemoteAddr,
	})
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrNotFound):
			writeError(w, http.StatusNotFound, "package not found")
		case errors.Is(err, app.ErrUnknownGateway):
			writeError(w, http.StatusBadRequest, "unknown gateway")
		case errors.Is(err, app.ErrPackageInactive):
			writeError(w, http.StatusConflict, "package not available for purchase")
		default:
			h.logger.Error().Err(err).Msg("create payment failed")
			writeError(w, http.StatusBadGateway, "payment could not be started, please retry")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentResponse(p, payURL))
}

// GetPayment returns the current payment status snapshot.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.payments.GetStatus(r.Context(), id)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
		return
	case errors.Is(err, app.ErrPaymentExpired):
		writeError(w, http.StatusGone, "payment session expired, start over")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("payment_id", id).Msg("payment lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p, ""))
}
