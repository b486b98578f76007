package notifier

import (
	"context"
	"log"
	"strings"
)

// LogMailer writes messages to the process log instead of delivering them.
// Used when no SMTP server is configured.
type LogMailer struct{}

// NewLogMailer creates a log mailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// Name returns "log".
func (l *LogMailer) Name() string {
	return "log"
}

// Send logs the message subject and recipients.
func (l *LogMailer) Send(ctx context.Context, msg *Message) error {
	log.Printf("mail (not sent): to=%s subject=%q", strings.Join(msg.To, ","), msg.Subject)
	return nil
}

// Close is a no-op.
func (l *LogMailer) Close() error {
	return nil
}
