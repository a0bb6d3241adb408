// Package summarizer turns a batch of stored articles into one digest
// using an LLM provider.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// DefaultTitle is used when the model does not supply a title line.
const DefaultTitle = "Daily News Summary"

// Summarizer produces a summary for a batch of items.
type Summarizer interface {
	Summarize(ctx context.Context, items []types.ContentItem, theme string) (Result, error)
}

// Result is a generated summary.
type Result struct {
	Title string
	Text  string
	Usage Usage
}

// Usage reports token consumption for cost tracking.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// New builds the provider named in cfg. rec may be nil.
func New(cfg config.SummarizerConfig, rec Recorder, logger *slog.Logger) (Summarizer, error) {
	opts := Options{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		Endpoint:  cfg.Endpoint,
		MaxTokens: cfg.MaxTokens,
		MaxItems:  cfg.MaxItems,
		Recorder:  rec,
		Logger:    logger,
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(opts), nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(opts), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// Options configures a provider. Endpoint overrides the provider's default
// API URL.
type Options struct {
	APIKey    string
	Model     string
	Endpoint  string
	MaxTokens int
	MaxItems  int
	Recorder  Recorder
	Logger    *slog.Logger
}
