package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/billgate/ports"
)

// MockSender is a mock email sender for testing.
// It stores sent emails in memory instead of actually sending them.
type MockSender struct {
	mu     sync.Mutex
	emails []SentEmail

	AppName string

	// Optional: fail if set
	ShouldFail bool
	FailError  error
}

// SentEmail represents an email that was "sent" (stored in memory).
type SentEmail struct {
	To      string
	Subject string
	Body    string
	Notice  string // notice template name, empty for plain Send
	Vars    map[string]string
}

// NewMockSender creates a new mock email sender.
func NewMockSender(appName string) *MockSender {
	return &MockSender{AppName: appName}
}

// Send stores the email in memory.
func (m *MockSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		if m.FailError != nil {
			return m.FailError
		}
		return fmt.Errorf("mock email send failure")
	}

	m.emails = append(m.emails, SentEmail{
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.TextBody,
	})
	return nil
}

// SendNotice renders the notice and stores it in memory.
func (m *MockSender) SendNotice(ctx context.Context, to, notice string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		if m.FailError != nil {
			return m.FailError
		}
		return fmt.Errorf("mock email send failure")
	}

	subject, body, err := renderNotice(m.AppName, notice, vars)
	if err != nil {
		return err
	}

	m.emails = append(m.emails, SentEmail{
		To:      to,
		Subject: subject,
		Body:    body,
		Notice:  notice,
		Vars:    vars,
	})
	return nil
}

// GetEmails returns all stored emails.
func (m *MockSender) GetEmails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]SentEmail, len(m.emails))
	copy(result, m.emails)
	return result
}

// GetLastEmail returns the most recently stored email.
func (m *MockSender) GetLastEmail() (SentEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.emails) == 0 {
		return SentEmail{}, false
	}
	return m.emails[len(m.emails)-1], true
}

// FindByNotice finds all emails sent with a specific notice template.
func (m *MockSender) FindByNotice(notice string) []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []SentEmail
	for _, e := range m.emails {
		if e.Notice == notice {
			result = append(result, e)
		}
	}
	return result
}

// Count returns the number of emails sent.
func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emails)
}

// Clear removes all stored emails.
func (m *MockSender) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = nil
}

// SetShouldFail configures the mock to fail on all send attempts.
func (m *MockSender) SetShouldFail(fail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
	m.FailError = err
}

var _ ports.EmailSender = (*MockSender)(nil)
