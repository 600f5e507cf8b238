// Package delegate sends do messages to agents over HTTP.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"

	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/message"
	"github.com/heyitsaamir/conductor/internal/logger"
	"github.com/heyitsaamir/conductor/internal/resilience"
)

// HeaderSenderID names the sending agent on every /recv call.
const HeaderSenderID = "x-sender-id"

// BreakerSettings configures the per-agent circuit breakers.
type BreakerSettings struct {
	MaxFailures int
	Timeout     time.Duration
}

// HTTP posts do messages to {agent.url}/recv. Each agent gets its own
// breaker so one unreachable agent does not block the others.
type HTTP struct {
	senderID   string
	httpClient *http.Client
	breakers   BreakerSettings

	mu      sync.Mutex
	byAgent map[string]*resilience.Breaker

	inflight *semaphore.Weighted
}

// NewHTTP creates a dispatcher identifying itself as senderID.
func NewHTTP(senderID string, timeout time.Duration, breakers BreakerSettings) *HTTP {
	return &HTTP{
		senderID: senderID,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breakers: breakers,
		byAgent:  make(map[string]*resilience.Breaker),
	}
}

// SetMaxInFlight caps concurrent posts across all agents. Zero or less
// removes the cap.
func (h *HTTP) SetMaxInFlight(n int) {
	if n <= 0 {
		h.inflight = nil
		return
	}
	h.inflight = semaphore.NewWeighted(int64(n))
}

// Dispatch delivers msg. The agent only acknowledges receipt; the outcome
// arrives later as a did on the conductor's own /recv.
func (h *HTTP) Dispatch(ctx context.Context, to agent.Agent, msg message.Do) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal do for %s: %w", to.ID, err)
	}
	url := RecvURL(to.URL)

	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderSenderID, h.senderID)
		if id := logger.RequestID(ctx); id != "" {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("agent %s returned %d", to.ID, resp.StatusCode)
		case resp.StatusCode >= 400:
			return resilience.Permanent(fmt.Errorf("agent %s rejected message: %d", to.ID, resp.StatusCode))
		}
		return nil
	}

	if h.inflight != nil {
		if err := h.inflight.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("dispatch to %s: %w", to.ID, err)
		}
		defer h.inflight.Release(1)
	}

	if err := h.breaker(to.ID).Execute(call); err != nil {
		return fmt.Errorf("dispatch to %s: %w", to.ID, err)
	}
	slog.Debug("do dispatched", "agent", to.ID, "task_id", msg.TaskID)
	return nil
}

func (h *HTTP) breaker(agentID string) *resilience.Breaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.byAgent[agentID]
	if !ok {
		b = resilience.NewBreaker("agent:"+agentID, h.breakers.MaxFailures, h.breakers.Timeout)
		h.byAgent[agentID] = b
	}
	return b
}

// RecvURL returns the inbox URL of an agent. Directory entries may carry
// either the base URL or the full /recv address.
func RecvURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/recv") {
		return base
	}
	return base + "/recv"
}
