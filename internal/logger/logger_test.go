package logger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/heyitsaamir/conductor/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	l.Info("flushed on close")
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()

	if RequestID(ctx) != "" || ConversationID(ctx) != "" || TaskID(ctx) != "" {
		t.Fatal("expected empty ids on bare context")
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithConversationID(ctx, "conv-1")
	ctx = WithTaskID(ctx, "task-9")

	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
	if got := ConversationID(ctx); got != "conv-1" {
		t.Errorf("expected conv-1, got %q", got)
	}
	if got := TaskID(ctx); got != "task-9" {
		t.Errorf("expected task-9, got %q", got)
	}
}

func TestContextHandlerAddsIDs(t *testing.T) {
	inner := &recordingHandler{}
	h := contextHandler{inner: inner}

	ctx := WithTaskID(WithConversationID(context.Background(), "conv-1"), "task-9")
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "dispatch", 0)
	if err := h.Handle(ctx, rec); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if inner.count() != 1 {
		t.Fatalf("expected 1 record, got %d", inner.count())
	}
	got := map[string]string{}
	inner.records[0].Attrs(func(a slog.Attr) bool {
		got[a.Key] = a.Value.String()
		return true
	})
	if got["conversation_id"] != "conv-1" || got["task_id"] != "task-9" {
		t.Fatalf("unexpected attrs %v", got)
	}
	if _, ok := got["request_id"]; ok {
		t.Fatal("request_id should be absent when unset")
	}
}
