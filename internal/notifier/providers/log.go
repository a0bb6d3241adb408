package providers

import (
	"context"
	"log/slog"

	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// LogSender writes messages to the log instead of sending them. Used for
// local runs without an SMTP relay.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logging.Component(logger, "notifier")}
}

// Send logs the message and always succeeds.
func (s *LogSender) Send(ctx context.Context, to string, msg types.Message) error {
	s.logger.InfoContext(ctx, "email (log provider)",
		"to", to,
		"subject", msg.Subject,
		"plain_bytes", len(msg.PlainBody),
		"html_bytes", len(msg.HTMLBody))
	return nil
}
