package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// AnthropicProvider implements Summarizer using Anthropic's Claude API
type AnthropicProvider struct {
	client *anthropic.Client
	opts   Options
}

// NewAnthropicProvider creates a new Anthropic provider. The SDK's own
// retries are disabled; the pipeline retries the whole stage.
func NewAnthropicProvider(opts Options) *AnthropicProvider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.Endpoint))
	}
	client := anthropic.NewClient(reqOpts...)
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &AnthropicProvider{client: &client, opts: opts}
}

// Summarize sends the articles to Claude.
func (c *AnthropicProvider) Summarize(ctx context.Context, items []types.ContentItem, theme string) (Result, error) {
	const op = "summarize"
	if len(items) == 0 {
		return Result{}, errs.Validation(op, errors.New("no items to summarize"))
	}
	prompt := BuildPrompt(items, theme, c.opts.MaxItems)

	// Prefill the title marker so the reply always starts with the title line
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: int64(c.opts.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(titlePrefix)),
		},
	})
	if err != nil {
		record(c.opts, config.ProviderAnthropic, prompt, "", err)
		return Result{}, classifyAnthropic(op, err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	record(c.opts, config.ProviderAnthropic, prompt, responseText, nil)

	res := ParseResponse(titlePrefix + responseText)
	if res.Text == "" {
		return Result{}, errs.Permanent(op, errors.New("empty summary in response"))
	}
	res.Usage = Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	c.opts.log().Info("summary generated",
		"provider", config.ProviderAnthropic,
		"items", len(items),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens)
	return res, nil
}

func classifyAnthropic(op string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return errs.Transient(op, fmt.Errorf("claude API: %w", err))
		}
		return errs.Permanent(op, fmt.Errorf("claude API: %w", err))
	}
	return classifyCallError(op, err)
}

func classifyCallError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return errs.Permanent(op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return errs.Transient(op, err)
	}
	return errs.Permanent(op, err)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func (p Options) log() *slog.Logger {
	return logging.Component(p.Logger, "summarizer")
}
