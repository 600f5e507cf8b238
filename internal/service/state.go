package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/port/statestore"
)

// StateService manages the conversation state of each task. Writes are
// serialized per task id; the current state is always the newest one.
type StateService struct {
	store statestore.Store
	locks stripedLock
	now   func() time.Time
}

// NewStateService creates a StateService over the given store.
func NewStateService(store statestore.Store) *StateService {
	return &StateService{store: store, now: time.Now}
}

// CreateInitialState seeds the first state of a task. It fails with
// domain.ErrStateExists when the task already has one.
func (s *StateService) CreateInitialState(ctx context.Context, taskID, conversationID string, msgs []conversation.Message) (*conversation.State, error) {
	if taskID == "" || conversationID == "" {
		return nil, fmt.Errorf("%w: task id and conversation id are required", domain.ErrValidation)
	}

	unlock := s.locks.lock(taskID)
	defer unlock()

	existing, err := s.lookup(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrStateExists)
	}

	st := conversation.New(taskID, conversationID, msgs, s.now().UTC())
	if err := s.store.Insert(ctx, &st); err != nil {
		return nil, fmt.Errorf("insert state for task %s: %w", taskID, err)
	}
	slog.Debug("conversation state created", "task_id", taskID, "conversation_id", conversationID, "messages", len(msgs))
	return &st, nil
}

// GetStateByTaskID returns the current state of a task, or nil when it has none.
func (s *StateService) GetStateByTaskID(ctx context.Context, taskID string) (*conversation.State, error) {
	return s.lookup(ctx, taskID)
}

// GetConversationStates returns every state of a conversation, oldest first.
func (s *StateService) GetConversationStates(ctx context.Context, conversationID string) ([]conversation.State, error) {
	states, err := s.store.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list states for conversation %s: %w", conversationID, err)
	}
	return states, nil
}

// AddMessage appends msg to the task's current state and returns it. It
// returns nil, nil when the task has no state.
func (s *StateService) AddMessage(ctx context.Context, taskID string, msg conversation.Message) (*conversation.State, error) {
	if !msg.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, msg.Role)
	}

	unlock := s.locks.lock(taskID)
	defer unlock()

	st, err := s.lookup(ctx, taskID)
	if err != nil || st == nil {
		return nil, err
	}
	updated, err := s.store.AppendMessage(ctx, st.StateID, msg)
	if err != nil {
		return nil, fmt.Errorf("append message to task %s: %w", taskID, err)
	}
	return updated, nil
}

// SetPlanActivityID stores the chat handle of the task's plan card.
func (s *StateService) SetPlanActivityID(ctx context.Context, taskID, activityID string) error {
	unlock := s.locks.lock(taskID)
	defer unlock()

	st, err := s.lookup(ctx, taskID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("state for task %s: %w", taskID, domain.ErrNotFound)
	}
	if err := s.store.SetPlanActivityID(ctx, st.StateID, activityID); err != nil {
		return fmt.Errorf("set plan activity for task %s: %w", taskID, err)
	}
	return nil
}

// GetPlanActivityID returns the plan card handle, or "" when none is recorded.
func (s *StateService) GetPlanActivityID(ctx context.Context, taskID string) (string, error) {
	st, err := s.lookup(ctx, taskID)
	if err != nil || st == nil {
		return "", err
	}
	return st.PlanActivityID, nil
}

func (s *StateService) lookup(ctx context.Context, taskID string) (*conversation.State, error) {
	st, err := s.store.Latest(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for task %s: %w", taskID, err)
	}
	return st, nil
}
