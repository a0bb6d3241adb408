// Package notifier delivers rendered messages to recipients.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/notifier/providers"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Notifier sends one message to one recipient. Errors carry an errs kind so
// callers can tell a retryable failure from a rejected address.
type Notifier interface {
	Send(ctx context.Context, to string, msg types.Message) error
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(cfg config.EmailConfig, logger *slog.Logger) (Notifier, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		return providers.NewSMTPSender(providers.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.FromAddr,
			FromName: cfg.FromName,
		}), nil
	case config.ProviderLog:
		return providers.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}
}
