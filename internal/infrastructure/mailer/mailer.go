// Package mailer delivers confirmation emails over SMTP, the Resend API or
// the process log.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/email-confirmation-service/internal/config"
)

// Message is one outbound email. Text is required; HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewFromConfig returns the transport selected by MAILER.
func NewFromConfig(cfg config.MailerConfig, logger *slog.Logger) (Mailer, error) {
	switch cfg.Kind {
	case "smtp":
		return NewSMTP(cfg), nil
	case "resend":
		return NewResend(cfg.ResendAPIKey, cfg.From), nil
	case "log":
		return NewLog(logger), nil
	}
	return nil, fmt.Errorf("unknown mailer %q", cfg.Kind)
}
