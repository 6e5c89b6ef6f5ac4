package mailer

import (
	"context"
	"log/slog"
)

// LogMailer logs emails instead of sending them. Used for local runs.
type LogMailer struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (s *LogMailer) Send(_ context.Context, msg Message) error {
	s.logger.Info("confirmation email (log mailer)", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return nil
}
