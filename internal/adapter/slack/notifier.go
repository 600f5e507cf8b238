// Package slack mirrors conductor notifications to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heyitsaamir/conductor/internal/port/notifier"
)

const providerName = "slack"

// Notifier posts notifications to an incoming webhook. Webhooks cannot edit
// earlier posts, so plan cards arrive as fresh messages.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true}
}

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, msg notifier.Notification) (notifier.Receipt, error) {
	if n.webhookURL == "" {
		return notifier.Receipt{}, notifier.ErrNotConfigured
	}

	body, err := json.Marshal(render(msg))
	if err != nil {
		return notifier.Receipt{}, fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return notifier.Receipt{}, fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return notifier.Receipt{}, fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return notifier.Receipt{}, fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}
	return notifier.Receipt{}, nil
}

func render(msg notifier.Notification) slackMessage {
	text := msg.Message
	if text == "" && len(msg.Card) > 0 {
		text = "Plan updated: " + msg.Title
	}
	header := levelEmoji(msg.Level)
	if msg.Title != "" {
		header += " " + msg.Title
	}

	out := slackMessage{
		Text: text,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}},
		},
	}
	if msg.Source != "" || msg.ConversationID != "" {
		out.Blocks = append(out.Blocks, slackBlock{
			Type: "context",
			Elements: []slackText{{
				Type: "mrkdwn",
				Text: fmt.Sprintf("_%s · conversation %s_", msg.Source, msg.ConversationID),
			}},
		})
	}
	return out
}

func levelEmoji(level string) string {
	switch level {
	case "success":
		return "[OK]"
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
