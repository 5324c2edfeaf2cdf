package common

import (
	"sync"

	"github.com/rs/zerolog"
)

// EmailSender defines the contract for sending emails.
type EmailSender interface {
	Send(to, subject, html string) error
}

// InMemoryEmail records messages instead of sending them. Safe for concurrent use.
type InMemoryEmail struct {
	mu     sync.Mutex
	Outbox []Email
}

// Email represents a single email message captured by InMemoryEmail.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Send records the email in memory.
func (m *InMemoryEmail) Send(to, subject, html string) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, HTML: html})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *InMemoryEmail) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Email, len(m.Outbox))
	copy(out, m.Outbox)
	return out
}

// LogEmailSender writes outgoing mail to the log. Used when no SMTP relay is configured.
type LogEmailSender struct {
	Logger zerolog.Logger
}

// Send implements EmailSender.
func (s LogEmailSender) Send(to, subject, html string) error {
	s.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(html)).
		Msg("email_outbound")
	return nil
}

// NopEmailSender implements EmailSender without performing any action.
type NopEmailSender struct{}

// Send implements EmailSender.
func (NopEmailSender) Send(string, string, string) error { return nil }
