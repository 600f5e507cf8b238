package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
)

// StateStore implements statestore.Store in memory.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*conversation.State
	byTask map[string][]string // state ids in insertion order
	order  []string
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]*conversation.State),
		byTask: make(map[string][]string),
	}
}

func (s *StateStore) Insert(_ context.Context, st *conversation.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[st.StateID]; ok {
		return fmt.Errorf("state %s: %w", st.StateID, domain.ErrConflict)
	}
	c := st.Clone()
	s.states[c.StateID] = &c
	s.byTask[c.TaskID] = append(s.byTask[c.TaskID], c.StateID)
	s.order = append(s.order, c.StateID)
	return nil
}

func (s *StateStore) Latest(_ context.Context, taskID string) (*conversation.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *conversation.State
	for _, id := range s.byTask[taskID] {
		st := s.states[id]
		if latest == nil || !st.CreatedAt.Before(latest.CreatedAt) {
			latest = st
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("state for task %s: %w", taskID, domain.ErrNotFound)
	}
	c := latest.Clone()
	return &c, nil
}

func (s *StateStore) ListByConversation(_ context.Context, conversationID string) ([]conversation.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []conversation.State
	for _, id := range s.order {
		if st := s.states[id]; st.ConversationID == conversationID {
			out = append(out, st.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *StateStore) AppendMessage(_ context.Context, stateID string, msg conversation.Message) (*conversation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stateID]
	if !ok {
		return nil, fmt.Errorf("state %s: %w", stateID, domain.ErrNotFound)
	}
	st.Messages = append(st.Messages, msg)
	c := st.Clone()
	return &c, nil
}

func (s *StateStore) SetPlanActivityID(_ context.Context, stateID, activityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stateID]
	if !ok {
		return fmt.Errorf("state %s: %w", stateID, domain.ErrNotFound)
	}
	st.PlanActivityID = activityID
	return nil
}
