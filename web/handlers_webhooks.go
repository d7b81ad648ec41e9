package web

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/billgate/app"
	"github.com/artpar/billgate/domain/payment"
)

// signatureHeaders maps a gateway name to the header carrying its
// signature. Query-signed gateways (payvn) embed the hash in the payload
// itself and need no header.
var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

// HandleWebhook ingests an asynchronous gateway confirmation. The response
// is 200 once the event is durably recorded, regardless of business
// outcome; a signature failure or unknown gateway answers 4xx, and a
// failed audit insert answers 5xx so the gateway redelivers.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	header := signatureHeaders[gatewayName]
	if header == "" {
		header = "X-Signature"
	}
	signature := r.Header.Get(header)

	ack, err := h.webhooks.Handle(r.Context(), gatewayName, body, signature)
	if !ack.Recorded {
		// No audit row exists, so a redelivery will process cleanly.
		// Answering 200 here would lose the event for good.
		h.logger.Error().Err(err).Str("gateway", gatewayName).Msg("webhook could not be recorded")
		writeError(w, http.StatusInternalServerError, "event could not be recorded, retry")
		return
	}
	if !ack.OK() {
		if errors.Is(err, app.ErrUnknownGateway) {
			writeError(w, http.StatusBadRequest, "unknown gateway")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if err != nil {
		// Recorded but not fully processed; still acknowledge so the
		// gateway does not retry.
		h.logger.Error().Err(err).Str("gateway", gatewayName).Msg("webhook processed with error")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(ack.Outcome)})
}

// HandleRedirectReturn is the synchronous browser return path for
// redirect-style gateways. The signed query parameters go through the same
// verification and dispatch as a server callback; the dedup claim makes
// the race against the server-to-server delivery safe. The payer ends up
// on the success or failure page.
func (h *Handler) HandleRedirectReturn(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")
	payload := []byte(r.URL.RawQuery)

	ack, err := h.webhooks.Handle(r.Context(), gatewayName, payload, "")
	if !ack.Recorded || !ack.OK() {
		if err != nil {
			h.logger.Warn().Err(err).Str("gateway", gatewayName).Msg("redirect return rejected")
		}
		h.redirectTo(w, r, h.redirects.FailureURL, ack.OrderRef)
		return
	}

	if ack.OrderRef == "" {
		h.redirectTo(w, r, h.redirects.FailureURL, "")
		return
	}
	p, perr := h.payments.GetByOrderRef(r.Context(), ack.OrderRef)
	if perr != nil || p.Status != payment.StatusCompleted {
		h.redirectTo(w, r, h.redirects.FailureURL, ack.OrderRef)
		return
	}
	h.redirectTo(w, r, h.redirects.SuccessURL, ack.OrderRef)
}

func (h *Handler) redirectTo(w http.ResponseWriter, r *http.Request, dest, orderRef string) {
	if dest == "" {
		dest = "/"
	}
	if orderRef != "" {
		u, err := url.Parse(dest)
		if err == nil {
			q := u.Query()
			q.Set("order_ref", orderRef)
			u.RawQuery = q.Encode()
			dest = u.String()
		}
	}
	http.Redirect(w, r, dest, http.StatusFound)
}
