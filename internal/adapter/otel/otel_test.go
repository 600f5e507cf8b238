package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/heyitsaamir/conductor/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTEL{Enabled: false}, "conductor", "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.SubtasksDispatched == nil || m.WatchdogTimeouts == nil || m.PlansCompleted == nil {
		t.Fatal("expected all counters to be created")
	}
	m.SubtasksDispatched.Add(context.Background(), 1)
}

func TestSpansStartAndEnd(t *testing.T) {
	ctx := context.Background()

	c1, s1 := StartContinueSpan(ctx, "t1")
	c2, s2 := StartDispatchSpan(c1, "t1", "a1")
	c3, s3 := StartDoSpan(ctx, "c1")
	c4, s4 := StartDidSpan(ctx, "t1", "success")
	for _, c := range []context.Context{c1, c2, c3, c4} {
		if c == nil {
			t.Fatal("nil span context")
		}
	}
	s4.End()
	s3.End()
	s2.End()
	s1.End()
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := HTTPMiddleware("conductor")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}

func TestHTTPMiddlewareTagsSenderAndSkipsHealth(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := HTTPMiddleware("conductor")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/recv", http.NoBody)
	req.Header.Set("x-sender-id", "lead-qualification")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "POST /recv" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	var sender string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "conductor.sender" {
			sender = kv.Value.AsString()
		}
	}
	if sender != "lead-qualification" {
		t.Errorf("conductor.sender = %q", sender)
	}
}
