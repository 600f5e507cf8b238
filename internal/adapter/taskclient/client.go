// Package taskclient implements taskstore.Store against the task management
// HTTP service.
package taskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/resilience"
)

// Client talks to the task management service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type createBody struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	CreatedBy    string `json:"createdBy"`
	AssignedTo   string `json:"assignedTo,omitempty"`
	ParentID     string `json:"parentId,omitempty"`
	ParentTaskID string `json:"parentTaskId,omitempty"`
}

func (c *Client) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body := createBody{
		Title:        req.Title,
		Description:  req.Description,
		CreatedBy:    req.CreatedBy,
		AssignedTo:   req.AssignedTo,
		ParentID:     req.ParentID,
		ParentTaskID: req.ParentID,
	}
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", body, &t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return normalize(&t), nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return normalize(&t), nil
}

func (c *Client) GetSubtasks(ctx context.Context, id string) ([]task.Task, error) {
	var out []task.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/subtasks", nil, &out); err != nil {
		return nil, fmt.Errorf("get subtasks of %s: %w", id, err)
	}
	return normalizeAll(out), nil
}

// ListTasks filters on the server and again locally, since older service
// versions ignore the ids parameter.
func (c *Client) ListTasks(ctx context.Context, filter task.Filter) ([]task.Task, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.AssignedTo != "" {
		q.Set("assignedTo", filter.AssignedTo)
	}
	if len(filter.IDs) > 0 {
		q.Set("ids", strings.Join(filter.IDs, ","))
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var all []task.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &all); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]task.Task, 0, len(all))
	for i := range all {
		if filter.Match(&all[i]) {
			out = append(out, all[i])
		}
	}
	return normalizeAll(out), nil
}

func (c *Client) UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	var t task.Task
	body := map[string]task.Status{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id)+"/status", body, &t); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	return normalize(&t), nil
}

func (c *Client) AddExecutionLog(ctx context.Context, id, entry string) (*task.Task, error) {
	var t task.Task
	body := map[string]string{"log": entry}
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/logs", body, &t); err != nil {
		return nil, fmt.Errorf("log on task %s: %w", id, err)
	}
	return normalize(&t), nil
}

// Ping checks that the service answers.
func (c *Client) Ping(ctx context.Context) error {
	var discard []task.Task
	return c.do(ctx, http.MethodGet, "/tasks?status="+string(task.StatusInProgress), nil, &discard)
}

// do sends one request and decodes the JSON response into out. 404 maps to
// domain.ErrNotFound and other 4xx to domain.ErrValidation; neither trips
// the breaker.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	call := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(fmt.Errorf("%s: %w", errorText(data, resp.StatusCode), domain.ErrNotFound))
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return resilience.Permanent(fmt.Errorf("%w: %s", domain.ErrValidation, errorText(data, resp.StatusCode)))
		case resp.StatusCode >= 500:
			return fmt.Errorf("task service error: %s", errorText(data, resp.StatusCode))
		}

		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return resilience.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

// errorText extracts {"error": "..."} bodies, falling back to the status.
func errorText(data []byte, status int) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Sprintf("status %d: %s", status, body.Error)
	}
	return fmt.Sprintf("status %d", status)
}

func normalize(t *task.Task) *task.Task {
	if t.SubTaskIDs == nil {
		t.SubTaskIDs = []string{}
	}
	if t.ExecutionLogs == nil {
		t.ExecutionLogs = []string{}
	}
	return t
}

func normalizeAll(ts []task.Task) []task.Task {
	if ts == nil {
		return []task.Task{}
	}
	for i := range ts {
		normalize(&ts[i])
	}
	return ts
}
