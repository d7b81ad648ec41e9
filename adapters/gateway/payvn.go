package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/domain/renewal"
	"github.com/artpar/billgate/ports"
)

// PayVNConfig holds configuration for the PayVN redirect gateway.
type PayVNConfig struct {
	PayURL     string // gateway payment page base URL
	TmnCode    string // merchant terminal code
	HashSecret string
	ReturnURL  string // default browser return URL
}

// PayVNProvider implements ports.GatewayProvider for a VNPay-style
// redirect gateway. The payer is sent to the gateway's hosted page;
// confirmations arrive as signed query strings on the IPN endpoint and
// the browser return URL. There are no saved payment methods.
type PayVNProvider struct {
	config PayVNConfig
	clock  ports.Clock
}

// NewPayVNProvider creates a new PayVN provider.
func NewPayVNProvider(config PayVNConfig, clock ports.Clock) *PayVNProvider {
	return &PayVNProvider{config: config, clock: clock}
}

// Name returns the provider name.
func (p *PayVNProvider) Name() string {
	return "payvn"
}

// CreateSession builds the signed redirect URL for a new payment.
// The gateway expects amounts multiplied by 100 and a signature over the
// sorted, unencoded parameter string.
func (p *PayVNProvider) CreateSession(ctx context.Context, req ports.SessionRequest) (ports.SessionResult, error) {
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = p.config.ReturnURL
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	currency := req.Currency
	if currency == "" {
		currency = "VND"
	}

	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    p.config.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CreateDate": p.clock.Now().Format("20060102150405"),
		"vnp_CurrCode":   currency,
		"vnp_IpAddr":     clientIP,
		"vnp_Locale":     "vn",
		"vnp_OrderInfo":  req.Description,
		"vnp_OrderType":  "other",
		"vnp_ReturnUrl":  returnURL,
		"vnp_TxnRef":     req.OrderRef,
	}
	if req.BankCode != "" {
		params["vnp_BankCode"] = req.BankCode
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hashParts := make([]string, 0, len(keys))
	queryParts := make([]string, 0, len(keys))
	for _, k := range keys {
		hashParts = append(hashParts, k+"="+params[k])
		queryParts = append(queryParts, k+"="+url.QueryEscape(params[k]))
	}

	secureHash := p.sign(strings.Join(hashParts, "&"))
	payerURL := fmt.Sprintf("%s?%s&vnp_SecureHash=%s", p.config.PayURL, strings.Join(queryParts, "&"), secureHash)

	return ports.SessionResult{
		ExternalRef: req.OrderRef,
		PayerURL:    payerURL,
	}, nil
}

// ChargeSaved is not supported: redirect gateways hold no payment methods.
func (p *PayVNProvider) ChargeSaved(ctx context.Context, req ports.ChargeRequest) (string, error) {
	return "", ports.ErrChargeUnsupported
}

// VerifyInbound validates a signed query-string payload. The signature
// travels inside the payload as vnp_SecureHash; the signature argument is
// used as a fallback when the parameter is absent.
func (p *PayVNProvider) VerifyInbound(payload []byte, signature string) (gwevent.Parsed, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return gwevent.Parsed{}, fmt.Errorf("parse payload: %w", err)
	}

	got := values.Get("vnp_SecureHash")
	if got == "" {
		got = signature
	}
	if got == "" {
		return gwevent.Parsed{}, fmt.Errorf("%w: missing secure hash", ports.ErrSignatureInvalid)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+values.Get(k))
	}

	want := p.sign(strings.Join(parts, "&"))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return gwevent.Parsed{}, ports.ErrSignatureInvalid
	}

	orderRef := values.Get("vnp_TxnRef")
	txnNo := values.Get("vnp_TransactionNo")
	succeeded := values.Get("vnp_ResponseCode") == "00"

	kind := gwevent.KindPurchaseConfirmed
	if renewal.IsRenewalRef(orderRef) {
		kind = gwevent.KindRenewalConfirmed
		if !succeeded {
			kind = gwevent.KindRenewalFailed
		}
	} else if !succeeded {
		kind = gwevent.KindPurchaseFailed
	}

	return gwevent.Parsed{
		// Retried deliveries for the same transaction carry the same pair.
		EventID: orderRef + ":" + txnNo,
		Kind:    kind,
		Raw:     string(payload),
	}, nil
}

// ExtractDetails pulls the business outcome out of a verified event.
func (p *PayVNProvider) ExtractDetails(ev gwevent.Parsed) gwevent.Details {
	values, err := url.ParseQuery(ev.Raw)
	if err != nil {
		return gwevent.Details{RawResponse: ev.Raw}
	}

	amount, _ := strconv.ParseInt(values.Get("vnp_Amount"), 10, 64)
	currency := values.Get("vnp_CurrCode")
	if currency == "" {
		currency = "VND"
	}

	return gwevent.Details{
		OrderRef:       values.Get("vnp_TxnRef"),
		TransactionRef: values.Get("vnp_TransactionNo"),
		Succeeded:      values.Get("vnp_ResponseCode") == "00",
		Amount:         amount / 100,
		Currency:       currency,
		BankCode:       values.Get("vnp_BankCode"),
		CardType:       values.Get("vnp_CardType"),
		RawResponse:    ev.Raw,
	}
}

func (p *PayVNProvider) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(p.config.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ ports.GatewayProvider = (*PayVNProvider)(nil)
