package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider implements Summarizer against any OpenAI-compatible chat
// completions endpoint, Azure deployments included.
type OpenAIProvider struct {
	opts   Options
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(opts Options) *OpenAIProvider {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultOpenAIEndpoint
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &OpenAIProvider{
		opts: opts,
		client: &http.Client{
			Timeout: 120 * time.Second, // LLM calls can be slow
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Summarize posts the prompt as a chat completion.
func (c *OpenAIProvider) Summarize(ctx context.Context, items []types.ContentItem, theme string) (Result, error) {
	const op = "summarize"
	if len(items) == 0 {
		return Result{}, errs.Validation(op, errors.New("no items to summarize"))
	}
	if c.opts.APIKey == "" || c.opts.Model == "" {
		return Result{}, errs.Permanent(op, errors.New("openai provider misconfigured"))
	}
	prompt := BuildPrompt(items, theme, c.opts.MaxItems)

	body, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return Result{}, errs.Permanent(op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, errs.Permanent(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("api-key", c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		record(c.opts, config.ProviderOpenAI, prompt, "", err)
		return Result{}, classifyCallError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, classifyCallError(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		callErr := fmt.Errorf("chat completion %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		record(c.opts, config.ProviderOpenAI, prompt, string(raw), callErr)
		if retryableStatus(resp.StatusCode) {
			return Result{}, errs.Transient(op, callErr)
		}
		return Result{}, errs.Permanent(op, callErr)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Result{}, errs.Permanent(op, fmt.Errorf("parse response: %w", err))
	}
	if chat.Error != nil {
		return Result{}, errs.Permanent(op, fmt.Errorf("chat completion error: %s - %s", chat.Error.Type, chat.Error.Message))
	}
	if len(chat.Choices) == 0 {
		return Result{}, errs.Permanent(op, errors.New("chat completion returned no choices"))
	}

	text := chat.Choices[0].Message.Content
	record(c.opts, config.ProviderOpenAI, prompt, text, nil)

	res := ParseResponse(text)
	if res.Text == "" {
		return Result{}, errs.Permanent(op, errors.New("chat completion returned an empty summary"))
	}
	res.Usage = Usage{InputTokens: chat.Usage.PromptTokens, OutputTokens: chat.Usage.CompletionTokens}
	c.opts.log().Info("summary generated",
		"provider", config.ProviderOpenAI,
		"items", len(items),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens)
	return res, nil
}
