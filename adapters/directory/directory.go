// Package directory provides BuyerDirectory implementations.
//
// Payer identity is owned by the surrounding platform, not by this service.
// These adapters cover deployments where buyer details are provisioned
// statically alongside the service, and tests.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/billgate/domain/invoice"
	"github.com/artpar/billgate/ports"
)

// ErrUnknownPayer is returned when a payer is not present in the directory.
var ErrUnknownPayer = fmt.Errorf("directory: unknown payer")

// Static resolves buyers from a fixed in-memory map.
type Static struct {
	mu     sync.RWMutex
	buyers map[string]invoice.Buyer
}

// NewStatic creates a directory from the given payer-to-buyer map.
func NewStatic(buyers map[string]invoice.Buyer) *Static {
	copied := make(map[string]invoice.Buyer, len(buyers))
	for k, v := range buyers {
		copied[k] = v
	}
	return &Static{buyers: copied}
}

// Lookup returns the buyer snapshot for payerID.
func (s *Static) Lookup(ctx context.Context, payerID string) (invoice.Buyer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buyers[payerID]
	if !ok {
		return invoice.Buyer{}, fmt.Errorf("%w: %s", ErrUnknownPayer, payerID)
	}
	return b, nil
}

// Put adds or replaces a buyer entry.
func (s *Static) Put(payerID string, b invoice.Buyer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyers[payerID] = b
}

// Noop returns an empty buyer for every payer. Invoices are still issued
// with the payer reference; buyer fields stay blank.
type Noop struct{}

// Lookup returns an empty buyer.
func (Noop) Lookup(ctx context.Context, payerID string) (invoice.Buyer, error) {
	return invoice.Buyer{}, nil
}

var (
	_ ports.BuyerDirectory = (*Static)(nil)
	_ ports.BuyerDirectory = Noop{}
)
