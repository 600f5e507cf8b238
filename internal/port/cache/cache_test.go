package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/heyitsaamir/conductor/internal/port/cache"
)

// mapCache is a minimal Cache for exercising the JSON helpers.
type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

type entry struct {
	TaskID string `json:"task_id"`
	Count  int    `json:"count"`
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newMapCache()

	if err := cache.SetJSON(ctx, c, "state.t1", entry{TaskID: "t1", Count: 3}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	got, ok, err := cache.GetJSON[entry](ctx, c, "state.t1")
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got.TaskID != "t1" || got.Count != 3 {
		t.Fatalf("unexpected value %+v", got)
	}
}

func TestGetJSONMiss(t *testing.T) {
	_, ok, err := cache.GetJSON[entry](context.Background(), newMapCache(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestGetJSONCorrupt(t *testing.T) {
	ctx := context.Background()
	c := newMapCache()
	_ = c.Set(ctx, "bad", []byte("{not json"), time.Minute)

	_, ok, err := cache.GetJSON[entry](ctx, c, "bad")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if ok {
		t.Fatal("corrupt entry must not report a hit")
	}
}
