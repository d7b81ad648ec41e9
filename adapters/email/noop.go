package email

import (
	"context"

	"github.com/artpar/billgate/ports"
)

// NoopSender is a no-op email sender for when email is disabled.
type NoopSender struct{}

// NewNoopSender creates a new no-op email sender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// Send does nothing.
func (s *NoopSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	return nil
}

// SendNotice does nothing.
func (s *NoopSender) SendNotice(ctx context.Context, to, notice string, vars map[string]string) error {
	return nil
}

var _ ports.EmailSender = (*NoopSender)(nil)
