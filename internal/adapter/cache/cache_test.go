package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/heyitsaamir/conductor/internal/adapter/memory"
	"github.com/heyitsaamir/conductor/internal/adapter/storetest"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/port/cache"
	"github.com/heyitsaamir/conductor/internal/port/statestore"
)

var (
	_ cache.Cache      = (*L1)(nil)
	_ cache.Cache      = (*L2)(nil)
	_ cache.Cache      = (*Tiered)(nil)
	_ statestore.Store = (*StateStore)(nil)
)

// mapCache is a synchronous cache for tests. failing makes every call error.
type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

var errDown = errors.New("cache down")

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, false, errDown
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errDown
	}
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errDown
	}
	delete(m.data, key)
	return nil
}

func (m *mapCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// countingStore counts Latest calls that reach the backing store.
type countingStore struct {
	statestore.Store
	mu      sync.Mutex
	latests int
}

func (c *countingStore) Latest(ctx context.Context, taskID string) (*conversation.State, error) {
	c.mu.Lock()
	c.latests++
	c.mu.Unlock()
	return c.Store.Latest(ctx, taskID)
}

func TestStateStoreSuite(t *testing.T) {
	storetest.RunStateStore(t, func(t *testing.T) statestore.Store {
		return NewStateStore(memory.NewStateStore(), newMapCache(), time.Minute)
	})
}

func TestStateStoreReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.NewStateStore()}
	c := newMapCache()
	s := NewStateStore(backing, c, time.Minute)

	st := conversation.New("t1", "c1", []conversation.Message{conversation.UserMessage("hi")}, time.Now())
	if err := s.Insert(ctx, &st); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		got, err := s.Latest(ctx, "t1")
		if err != nil {
			t.Fatal(err)
		}
		if got.StateID != st.StateID {
			t.Fatalf("unexpected state %+v", got)
		}
	}
	if backing.latests != 1 {
		t.Fatalf("expected 1 backing read, got %d", backing.latests)
	}
	if !c.has(StateKey("t1")) {
		t.Fatal("expected cached entry")
	}

	if _, err := s.AppendMessage(ctx, st.StateID, conversation.AssistantMessage("ok")); err != nil {
		t.Fatal(err)
	}
	if c.has(StateKey("t1")) {
		t.Fatal("append should invalidate the entry")
	}
	got, err := s.Latest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("stale read after append: %+v", got.Messages)
	}

	if err := s.SetPlanActivityID(ctx, st.StateID, "a-1"); err != nil {
		t.Fatal(err)
	}
	if c.has(StateKey("t1")) {
		t.Fatal("plan activity update should invalidate the entry")
	}
}

// gatedStore parks the next Latest after it has read the backing store.
type gatedStore struct {
	statestore.Store
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Latest(ctx context.Context, taskID string) (*conversation.State, error) {
	st, err := g.Store.Latest(ctx, taskID)
	g.once.Do(func() {
		close(g.read)
		<-g.release
	})
	return st, err
}

func TestStateStoreLatestRacingAppendDoesNotCacheStaleState(t *testing.T) {
	ctx := context.Background()
	backing := &gatedStore{Store: memory.NewStateStore(), read: make(chan struct{}), release: make(chan struct{})}
	c := newMapCache()
	s := NewStateStore(backing, c, time.Minute)

	st := conversation.New("t1", "c1", []conversation.Message{conversation.AssistantMessage("region?")}, time.Now())
	if err := backing.Store.Insert(ctx, &st); err != nil {
		t.Fatal(err)
	}

	done := make(chan *conversation.State)
	go func() {
		got, err := s.Latest(ctx, "t1")
		if err != nil {
			t.Error(err)
		}
		done <- got
	}()

	<-backing.read
	if _, err := s.AppendMessage(ctx, st.StateID, conversation.UserMessage("EMEA")); err != nil {
		t.Fatal(err)
	}
	close(backing.release)
	stale := <-done
	if stale == nil || len(stale.Messages) != 1 {
		t.Fatalf("expected the racing read to see the old transcript, got %+v", stale)
	}

	if c.has(StateKey("t1")) {
		t.Fatal("racing read should not populate the cache")
	}
	got, err := s.Latest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	last, _ := got.LastMessage()
	if last.Content != "EMEA" {
		t.Fatalf("expected the appended answer, got %+v", got.Messages)
	}
}

func TestStateStoreCacheDownFallsThrough(t *testing.T) {
	ctx := context.Background()
	c := newMapCache()
	s := NewStateStore(memory.NewStateStore(), c, time.Minute)

	st := conversation.New("t1", "c1", nil, time.Now())
	if err := s.Insert(ctx, &st); err != nil {
		t.Fatal(err)
	}
	c.failing = true
	got, err := s.Latest(ctx, "t1")
	if err != nil {
		t.Fatalf("expected backing read, got %v", err)
	}
	if got.StateID != st.StateID {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestTieredL2HitBackfillsL1(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMapCache(), newMapCache()
	c := NewTiered(l1, l2, time.Minute)

	l2.data["k"] = []byte("v")
	val, found, err := c.Get(ctx, "k")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("expected L2 hit, got %q %v %v", val, found, err)
	}
	if !l1.has("k") {
		t.Fatal("expected L1 backfill")
	}
}

func TestTieredWritesBothLevels(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMapCache(), newMapCache()
	c := NewTiered(l1, l2, time.Minute)

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if !l1.has("k") || !l2.has("k") {
		t.Fatal("expected both levels written")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if l1.has("k") || l2.has("k") {
		t.Fatal("expected both levels cleared")
	}
}

func TestTieredL2FailureDegrades(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMapCache(), newMapCache()
	l2.failing = true
	c := NewTiered(l1, l2, time.Minute)

	if _, found, err := c.Get(ctx, "k"); err != nil || found {
		t.Fatalf("expected quiet miss, got %v %v", found, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("L2 set failure should not fail Set: %v", err)
	}
	if !l1.has("k") {
		t.Fatal("expected L1 written")
	}
	if err := c.Delete(ctx, "k"); !errors.Is(err, errDown) {
		t.Fatalf("L2 delete failure must surface, got %v", err)
	}
}

func TestTieredWithoutL2(t *testing.T) {
	ctx := context.Background()
	l1 := newMapCache()
	c := NewTiered(l1, nil, time.Minute)

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if val, found, _ := c.Get(ctx, "k"); !found || string(val) != "v" {
		t.Fatalf("expected L1 hit, got %q %v", val, found)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
}

func TestL1(t *testing.T) {
	ctx := context.Background()
	l1, err := NewL1(1)
	if err != nil {
		t.Fatal(err)
	}
	defer l1.Close()

	if err := l1.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	l1.Wait()
	val, found, err := l1.Get(ctx, "k")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("expected hit, got %q %v %v", val, found, err)
	}
	if err := l1.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := l1.Get(ctx, "k"); found {
		t.Fatal("expected miss after delete")
	}
}

func TestKVKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"state.3f1c-9a", "state.3f1c-9a"},
		{"state.task 1", "state.task_1"},
		{"state.a:b*c", "state.a_b_c"},
	}
	for _, tt := range tests {
		if got := kvKey(tt.in); got != tt.want {
			t.Errorf("kvKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestL2Integration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	l2, err := OpenL2(ctx, js, "conductor-state-test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if err := l2.Set(ctx, "state.t1", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	val, found, err := l2.Get(ctx, "state.t1")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("expected hit, got %q %v %v", val, found, err)
	}
	if err := l2.Delete(ctx, "state.t1"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := l2.Get(ctx, "state.t1"); found {
		t.Fatal("expected miss after delete")
	}
	if err := l2.Delete(ctx, "state.never"); err != nil {
		t.Fatalf("deleting a missing key should succeed, got %v", err)
	}
}
