package cache

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/port/cache"
	"github.com/heyitsaamir/conductor/internal/port/statestore"
)

const genStripes = 256

// StateStore caches Latest lookups under state.{taskId}. Every write goes to
// the backing store first and then drops the key; the next Latest reloads.
// A Latest whose key was dropped while it read the backing store returns
// what it read but does not cache it.
type StateStore struct {
	next  statestore.Store
	cache cache.Cache
	ttl   time.Duration

	gens [genStripes]generation
}

// generation counts invalidations of the keys hashed to one stripe. Two keys
// may share a stripe; a shared bump only skips a write-back.
type generation struct {
	mu sync.Mutex
	n  uint64
}

// NewStateStore wraps next with a read-through cache.
func NewStateStore(next statestore.Store, c cache.Cache, ttl time.Duration) *StateStore {
	return &StateStore{next: next, cache: c, ttl: ttl}
}

// StateKey is the cache key of the current state of a task.
func StateKey(taskID string) string { return "state." + taskID }

func (s *StateStore) Insert(ctx context.Context, st *conversation.State) error {
	if err := s.next.Insert(ctx, st); err != nil {
		return err
	}
	s.invalidate(ctx, st.TaskID)
	return nil
}

func (s *StateStore) Latest(ctx context.Context, taskID string) (*conversation.State, error) {
	key := StateKey(taskID)
	cached, ok, err := cache.GetJSON[conversation.State](ctx, s.cache, key)
	if err != nil {
		slog.Warn("state cache read failed", "task_id", taskID, "error", err)
	}
	if ok {
		return &cached, nil
	}

	g := s.gen(taskID)
	g.mu.Lock()
	seen := g.n
	g.mu.Unlock()

	st, err := s.next.Latest(ctx, taskID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n != seen {
		slog.Debug("state changed during read, skipping cache write", "task_id", taskID)
		return st, nil
	}
	if err := cache.SetJSON(ctx, s.cache, key, st, s.ttl); err != nil {
		slog.Warn("state cache write failed", "task_id", taskID, "error", err)
	}
	return st, nil
}

func (s *StateStore) ListByConversation(ctx context.Context, conversationID string) ([]conversation.State, error) {
	return s.next.ListByConversation(ctx, conversationID)
}

func (s *StateStore) AppendMessage(ctx context.Context, stateID string, msg conversation.Message) (*conversation.State, error) {
	st, err := s.next.AppendMessage(ctx, stateID, msg)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, st.TaskID)
	return st, nil
}

// SetPlanActivityID derives the task key from the state id.
func (s *StateStore) SetPlanActivityID(ctx context.Context, stateID, activityID string) error {
	if err := s.next.SetPlanActivityID(ctx, stateID, activityID); err != nil {
		return err
	}
	s.invalidate(ctx, conversation.TaskIDFromStateID(stateID))
	return nil
}

func (s *StateStore) invalidate(ctx context.Context, taskID string) {
	if taskID == "" {
		return
	}
	g := s.gen(taskID)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if err := s.cache.Delete(ctx, StateKey(taskID)); err != nil {
		slog.Warn("state cache invalidate failed", "task_id", taskID, "error", err)
	}
}

func (s *StateStore) gen(taskID string) *generation {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return &s.gens[h.Sum32()%genStripes]
}
