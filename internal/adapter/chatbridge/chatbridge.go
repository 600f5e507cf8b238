// Package chatbridge sends conductor replies and plan cards to the chat
// bridge that fronts the user's conversation.
package chatbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/heyitsaamir/conductor/internal/port/notifier"
	"github.com/heyitsaamir/conductor/internal/resilience"
)

const providerName = "chatbridge"

// Notifier POSTs to {bridge}/send. The bridge answers with the id of the
// posted activity, which later sends pass back to edit it.
type Notifier struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a notifier for the bridge at baseURL.
func New(baseURL string, timeout time.Duration) *Notifier {
	return &Notifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (n *Notifier) SetBreaker(b *resilience.Breaker) { n.breaker = b }

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true, UpdateInPlace: true}
}

type sendRequest struct {
	ConversationID string          `json:"conversationId"`
	Text           string          `json:"text,omitempty"`
	Card           json.RawMessage `json:"card,omitempty"`
	ActivityID     string          `json:"activityId,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

func (n *Notifier) Send(ctx context.Context, msg notifier.Notification) (notifier.Receipt, error) {
	if n.baseURL == "" {
		return notifier.Receipt{}, notifier.ErrNotConfigured
	}
	if msg.ConversationID == "" {
		return notifier.Receipt{}, fmt.Errorf("chatbridge: conversation id is required")
	}

	body, err := json.Marshal(sendRequest{
		ConversationID: msg.ConversationID,
		Text:           msg.Message,
		Card:           msg.Card,
		ActivityID:     msg.ActivityID,
	})
	if err != nil {
		return notifier.Receipt{}, fmt.Errorf("chatbridge marshal: %w", err)
	}

	var out sendResponse
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/send", bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("chatbridge request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("chatbridge send: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("chatbridge %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		case resp.StatusCode >= 400:
			return resilience.Permanent(fmt.Errorf("chatbridge %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}
		// Bridges that do not track activities answer with plain "ok".
		_ = json.Unmarshal(data, &out)
		return nil
	}

	if n.breaker != nil {
		err = n.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return notifier.Receipt{}, err
	}

	id := out.ID
	if id == "" {
		id = msg.ActivityID
	}
	return notifier.Receipt{ActivityID: id}, nil
}

func init() {
	notifier.Register(providerName, func(settings map[string]string) (notifier.Notifier, error) {
		if settings["url"] == "" {
			return nil, notifier.ErrNotConfigured
		}
		timeout := 10 * time.Second
		if d, err := time.ParseDuration(settings["timeout"]); err == nil && d > 0 {
			timeout = d
		}
		return New(settings["url"], timeout), nil
	})
}
