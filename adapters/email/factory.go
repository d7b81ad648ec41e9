package email

import (
	"fmt"

	"github.com/artpar/billgate/ports"
)

// NewSender creates an email sender for the named provider.
func NewSender(provider string, smtpConfig SMTPConfig, appName string) (ports.EmailSender, error) {
	switch provider {
	case "smtp":
		if smtpConfig.AppName == "" {
			smtpConfig.AppName = appName
		}
		return NewSMTPSender(smtpConfig)

	case "mock":
		return NewMockSender(appName), nil

	case "none", "":
		return NewNoopSender(), nil

	default:
		return nil, fmt.Errorf("unknown email provider: %s", provider)
	}
}
