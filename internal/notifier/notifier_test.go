package notifier

import (
	"testing"

	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/notifier/providers"
)

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	n, err := NewFromConfig(config.EmailConfig{Provider: config.ProviderSMTP, SMTPHost: "smtp.example", SMTPPort: 587}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig(smtp) error = %v", err)
	}
	if _, ok := n.(*providers.SMTPSender); !ok {
		t.Errorf("NewFromConfig(smtp) = %T", n)
	}

	n, err = NewFromConfig(config.EmailConfig{Provider: config.ProviderLog}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig(log) error = %v", err)
	}
	if _, ok := n.(*providers.LogSender); !ok {
		t.Errorf("NewFromConfig(log) = %T", n)
	}

	if _, err := NewFromConfig(config.EmailConfig{Provider: "sendgrid"}, nil); err == nil {
		t.Error("NewFromConfig(unknown) error = nil")
	}
}
