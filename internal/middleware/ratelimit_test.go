package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remote, sender string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/messages", http.NoBody)
	req.RemoteAddr = remote
	if sender != "" {
		req.Header.Set(HeaderSenderID, sender)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	h := NewRateLimiter(10, 10).Handler(okHandler())
	for i := range 10 {
		if rec := hit(h, "192.168.1.1:1234", ""); rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	h := NewRateLimiter(10, 5).Handler(okHandler())
	for range 5 {
		hit(h, "192.168.1.1:1234", "")
	}

	rec := hit(h, "192.168.1.1:1234", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesSenders(t *testing.T) {
	h := NewRateLimiter(10, 2).Handler(okHandler())

	for range 2 {
		hit(h, "10.0.0.1:1", "agent-a")
	}
	if rec := hit(h, "10.0.0.1:1", "agent-a"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("agent-a: expected 429, got %d", rec.Code)
	}
	// Same IP, different sender has its own bucket.
	if rec := hit(h, "10.0.0.1:1", "agent-b"); rec.Code != http.StatusOK {
		t.Errorf("agent-b: expected 200, got %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.2:1", ""); rec.Code != http.StatusOK {
		t.Errorf("other ip: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1:1", "")
	if rec := hit(h, "10.0.0.1:1", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	now = now.Add(1500 * time.Millisecond)
	if rec := hit(h, "10.0.0.1:1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected refill, got %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(10, 10)
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1:1", "")
	hit(h, "10.0.0.2:1", "")
	if rl.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", rl.Len())
	}

	now = now.Add(time.Hour)
	rl.cleanup(time.Minute)
	if rl.Len() != 0 {
		t.Fatalf("expected 0 buckets after cleanup, got %d", rl.Len())
	}
}
