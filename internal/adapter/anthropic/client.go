// Package anthropic implements the planner, clarifier and delegation
// drafter on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/resilience"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = anthropic.ModelClaudeSonnet4_20250514

// ErrNoJSON is returned when a reply holds no JSON object.
var ErrNoJSON = errors.New("model reply contains no JSON object")

// Config holds client settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Client wraps the SDK client. One Client serves all three ports.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	breaker   *resilience.Breaker
}

// NewClient creates a client. The API key falls back to ANTHROPIC_API_KEY
// inside the SDK when empty.
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(2)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Client{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// SetBreaker attaches a circuit breaker to all model calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// complete sends one system + user turn and returns the concatenated text.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	var text string
	call := func() error {
		resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
				return resilience.Permanent(err)
			}
			return err
		}

		var b strings.Builder
		for _, block := range resp.Content {
			if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
				b.WriteString(tb.Text)
			}
		}
		text = b.String()
		slog.Debug("model call",
			"model", c.model,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	return text, nil
}

// completeJSON is complete followed by decoding the first JSON object in
// the reply into out. Models sometimes wrap JSON in prose or fences.
func (c *Client) completeJSON(ctx context.Context, system, user string, out any) error {
	text, err := c.complete(ctx, system, user)
	if err != nil {
		return err
	}
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

func extractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// transcript renders messages one per line as "role: content".
func transcript(msgs []conversation.Message) string {
	if len(msgs) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
