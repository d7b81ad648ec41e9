package gateway

import (
	"fmt"

	"github.com/artpar/billgate/ports"
)

// Config holds settings for all supported gateways. Only the sections for
// enabled gateways need to be filled in.
type Config struct {
	Stripe StripeConfig
	PayVN  PayVNConfig
}

// NewProvider creates the named gateway provider.
func NewProvider(name string, cfg Config, clock ports.Clock) (ports.GatewayProvider, error) {
	switch name {
	case "stripe":
		if cfg.Stripe.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeProvider(cfg.Stripe), nil

	case "payvn":
		if cfg.PayVN.TmnCode == "" || cfg.PayVN.HashSecret == "" {
			return nil, fmt.Errorf("payvn terminal code and hash secret are required")
		}
		return NewPayVNProvider(cfg.PayVN, clock), nil

	case "dummy":
		return NewDummyProvider(), nil

	default:
		return nil, fmt.Errorf("unknown gateway: %s", name)
	}
}
