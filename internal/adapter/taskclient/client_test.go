package taskclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
	"github.com/heyitsaamir/conductor/internal/resilience"
)

var _ taskstore.Store = (*Client)(nil)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateTaskSendsParent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, map[string]any{
			"id": "t2", "title": got["title"], "status": "Todo", "createdBy": got["createdBy"], "parentId": got["parentTaskId"],
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	tk, err := c.CreateTask(context.Background(), task.CreateRequest{
		Title: "Step 1", CreatedBy: "conductor", AssignedTo: "lead-qualification", ParentID: "t1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got["parentId"] != "t1" || got["parentTaskId"] != "t1" {
		t.Fatalf("parent not sent under both keys: %v", got)
	}
	if tk.ID != "t2" || tk.ParentID != "t1" {
		t.Fatalf("unexpected task %+v", tk)
	}
	if tk.SubTaskIDs == nil || tk.ExecutionLogs == nil {
		t.Fatal("nil slices should be normalized")
	}
}

func TestCreateTaskValidatesLocally(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	if _, err := c.CreateTask(context.Background(), task.CreateRequest{CreatedBy: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Task not found"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetTask(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Task not found") {
		t.Fatalf("server message lost: %v", err)
	}
}

func TestListTasksQueryAndLocalFilter(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		// Ignores ids, like older service versions.
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "a", "status": "InProgress"},
			{"id": "b", "status": "InProgress"},
			{"id": "c", "status": "InProgress"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.ListTasks(context.Background(), task.Filter{Status: task.StatusInProgress, IDs: []string{"a", "c"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(query, "status=InProgress") || !strings.Contains(query, "ids=a%2Cc") {
		t.Fatalf("unexpected query %q", query)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected tasks %+v", got)
	}
}

func TestUpdateStatusAndLog(t *testing.T) {
	var paths []string
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		var b map[string]string
		_ = json.NewDecoder(r.Body).Decode(&b)
		bodies = append(bodies, b)
		writeJSON(w, http.StatusOK, map[string]any{"id": "t1", "status": "Done", "executionLogs": []string{"ok"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()
	if _, err := c.UpdateTaskStatus(ctx, "t1", task.StatusDone); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := c.AddExecutionLog(ctx, "t1", "ok"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if paths[0] != "PATCH /tasks/t1/status" || bodies[0]["status"] != "Done" {
		t.Fatalf("unexpected status call %s %v", paths[0], bodies[0])
	}
	if paths[1] != "POST /tasks/t1/logs" || bodies[1]["log"] != "ok" {
		t.Fatalf("unexpected log call %s %v", paths[1], bodies[1])
	}
	if _, err := c.UpdateTaskStatus(ctx, "t1", "Paused"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasSuffix(r.URL.Path, "/missing") {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Task not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	c.SetBreaker(resilience.NewBreaker("taskstore", 2, time.Minute))
	ctx := context.Background()

	for range 3 {
		if _, err := c.GetTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	for range 2 {
		if _, err := c.GetTask(ctx, "t1"); err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("expected server error, got %v", err)
		}
	}
	if _, err := c.GetTask(ctx, "t1"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if n := calls.Load(); n != 5 {
		t.Fatalf("expected 5 server calls, got %d", n)
	}
}
