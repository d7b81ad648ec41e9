// Package email provides email sending adapters.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/artpar/billgate/ports"
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender email address
	FromName string // sender display name

	// TLS settings
	UseTLS     bool // Use STARTTLS
	SkipVerify bool // Skip TLS certificate verification (for testing)

	// Timeouts
	Timeout time.Duration

	// Application settings
	AppName string // Application name for notice templates
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() SMTPConfig {
	return SMTPConfig{
		Host:     "localhost",
		Port:     25,
		From:     "noreply@localhost",
		FromName: "BillGate",
		UseTLS:   true,
		Timeout:  30 * time.Second,
		AppName:  "BillGate",
	}
}

// SMTPSender implements ports.EmailSender using SMTP.
type SMTPSender struct {
	config SMTPConfig
}

// NewSMTPSender creates a new SMTP email sender.
func NewSMTPSender(config SMTPConfig) (*SMTPSender, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &SMTPSender{config: config}, nil
}

// Send sends an email via SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.TextBody)

	return s.send(ctx, addr, msg.To, buf.Bytes())
}

// SendNotice renders the named notice and sends it.
func (s *SMTPSender) SendNotice(ctx context.Context, to, notice string, vars map[string]string) error {
	subject, body, err := renderNotice(s.config.AppName, notice, vars)
	if err != nil {
		return err
	}
	return s.Send(ctx, ports.EmailMessage{To: to, Subject: subject, TextBody: body})
}

// send delivers a message, using STARTTLS when configured.
func (s *SMTPSender) send(ctx context.Context, addr, to string, message []byte) error {
	dialer := &net.Dialer{Timeout: s.config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if s.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         s.config.Host,
				InsecureSkipVerify: s.config.SkipVerify,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}

	return client.Quit()
}

var _ ports.EmailSender = (*SMTPSender)(nil)
