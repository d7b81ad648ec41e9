package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/ports"
)

// DummyProvider is a scriptable gateway for development and testing.
// Sessions succeed immediately; inbound payloads are JSON-encoded
// gwevent.Details accepted without a real signature check.
type DummyProvider struct {
	mu sync.Mutex

	// SessionErr, ChargeErr and VerifyErr force the corresponding call
	// to fail when set.
	SessionErr error
	ChargeErr  error
	VerifyErr  error

	// SupportsCharge enables ChargeSaved. Off by default so the dummy
	// behaves like a redirect gateway unless a test opts in.
	SupportsCharge bool

	sessions []ports.SessionRequest
	charges  []ports.ChargeRequest
}

// NewDummyProvider creates a new dummy gateway.
func NewDummyProvider() *DummyProvider {
	return &DummyProvider{}
}

// Name returns the provider name.
func (p *DummyProvider) Name() string {
	return "dummy"
}

// CreateSession records the request and returns a fake payer URL.
func (p *DummyProvider) CreateSession(ctx context.Context, req ports.SessionRequest) (ports.SessionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SessionErr != nil {
		return ports.SessionResult{}, p.SessionErr
	}
	p.sessions = append(p.sessions, req)
	ref := "dummy_" + uuid.NewString()
	return ports.SessionResult{
		ExternalRef: ref,
		PayerURL:    fmt.Sprintf("https://pay.invalid/%s", ref),
	}, nil
}

// ChargeSaved records the request and returns a fake transaction ref.
func (p *DummyProvider) ChargeSaved(ctx context.Context, req ports.ChargeRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.SupportsCharge {
		return "", ports.ErrChargeUnsupported
	}
	if p.ChargeErr != nil {
		return "", p.ChargeErr
	}
	p.charges = append(p.charges, req)
	return "dummych_" + uuid.NewString(), nil
}

// dummyPayload is the wire shape accepted by VerifyInbound.
type dummyPayload struct {
	EventID string          `json:"event_id"`
	Kind    gwevent.Kind    `json:"kind"`
	Details gwevent.Details `json:"details"`
}

// Payload builds a payload accepted by VerifyInbound. Tests compose one,
// then post it through the webhook path.
func Payload(eventID string, kind gwevent.Kind, details gwevent.Details) []byte {
	b, _ := json.Marshal(dummyPayload{EventID: eventID, Kind: kind, Details: details})
	return b
}

// VerifyInbound decodes a payload produced by Payload.
func (p *DummyProvider) VerifyInbound(payload []byte, signature string) (gwevent.Parsed, error) {
	p.mu.Lock()
	verifyErr := p.VerifyErr
	p.mu.Unlock()

	if verifyErr != nil {
		return gwevent.Parsed{}, verifyErr
	}

	var dp dummyPayload
	if err := json.Unmarshal(payload, &dp); err != nil {
		return gwevent.Parsed{}, fmt.Errorf("%w: %v", ports.ErrSignatureInvalid, err)
	}
	if dp.EventID == "" {
		return gwevent.Parsed{}, fmt.Errorf("%w: missing event id", ports.ErrSignatureInvalid)
	}
	return gwevent.Parsed{EventID: dp.EventID, Kind: dp.Kind, Raw: string(payload)}, nil
}

// ExtractDetails decodes the details embedded in the payload.
func (p *DummyProvider) ExtractDetails(ev gwevent.Parsed) gwevent.Details {
	var dp dummyPayload
	if err := json.Unmarshal([]byte(ev.Raw), &dp); err != nil {
		return gwevent.Details{RawResponse: ev.Raw}
	}
	d := dp.Details
	if d.RawResponse == "" {
		d.RawResponse = ev.Raw
	}
	return d
}

// Sessions returns all recorded session requests.
func (p *DummyProvider) Sessions() []ports.SessionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ports.SessionRequest, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Charges returns all recorded charge requests.
func (p *DummyProvider) Charges() []ports.ChargeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ports.ChargeRequest, len(p.charges))
	copy(out, p.charges)
	return out
}

var _ ports.GatewayProvider = (*DummyProvider)(nil)
