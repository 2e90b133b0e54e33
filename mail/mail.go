// Package mail defines the outbound mail contract the authentication
// flows depend on. Delivery is the host's concern; the flows treat it
// as best effort and never fail a request over it.
package mail

import (
	"context"

	"go.uber.org/zap"
)

// Mailer sends one message per Setup..Send cycle.
type Mailer interface {
	// Setup resets the mailer for a new message.
	Setup()
	SetTo(address string)
	SetSubject(subject string)
	SetBody(body string)
	// Send delivers the message. Errors are logged by callers, never
	// surfaced to the end user.
	Send(ctx context.Context) error
}

// LogMailer writes messages to the log instead of delivering them.
// Useful in development and as a safe default where no transport is
// configured. The body is not logged: reset links must not end up in
// log storage.
type LogMailer struct {
	log     *zap.Logger
	to      string
	subject string
	body    string
}

// NewLogMailer returns a mailer that logs instead of sending.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Setup() {
	m.to, m.subject, m.body = "", "", ""
}

func (m *LogMailer) SetTo(address string)      { m.to = address }
func (m *LogMailer) SetSubject(subject string) { m.subject = subject }
func (m *LogMailer) SetBody(body string)       { m.body = body }

func (m *LogMailer) Send(context.Context) error {
	m.log.Info("mail suppressed by log mailer",
		zap.String("to", m.to),
		zap.String("subject", m.subject),
		zap.Int("bodyLen", len(m.body)))
	return nil
}
