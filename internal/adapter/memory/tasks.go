// Package memory provides in-process task and conversation state stores for
// local development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/task"
)

// TaskStore implements taskstore.Store in memory.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	order []string
	now   func() time.Time
}

// NewTaskStore returns an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*task.Task), now: time.Now}
}

func (s *TaskStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *task.Task
	if req.ParentID != "" {
		p, ok := s.tasks[req.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent task %s: %w", req.ParentID, domain.ErrNotFound)
		}
		parent = p
	}

	now := s.now().UTC()
	t := &task.Task{
		ID:            uuid.NewString(),
		Title:         req.Title,
		Description:   req.Description,
		Status:        task.StatusTodo,
		AssignedTo:    req.AssignedTo,
		CreatedBy:     req.CreatedBy,
		ParentID:      req.ParentID,
		SubTaskIDs:    []string{},
		ExecutionLogs: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	if parent != nil {
		parent.SubTaskIDs = append(parent.SubTaskIDs, t.ID)
		parent.UpdatedAt = now
	}
	return clone(t), nil
}

func (s *TaskStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return clone(t), nil
}

func (s *TaskStore) GetSubtasks(_ context.Context, id string) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	out := make([]task.Task, 0, len(t.SubTaskIDs))
	for _, cid := range t.SubTaskIDs {
		if c, ok := s.tasks[cid]; ok {
			out = append(out, *clone(c))
		}
	}
	return out, nil
}

func (s *TaskStore) ListTasks(_ context.Context, filter task.Filter) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []task.Task
	for _, id := range s.order {
		if t := s.tasks[id]; filter.Match(t) {
			out = append(out, *clone(t))
		}
	}
	return out, nil
}

func (s *TaskStore) UpdateTaskStatus(_ context.Context, id string, status task.Status) (*task.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return s.mutate(id, func(t *task.Task) { t.Status = status })
}

func (s *TaskStore) AddExecutionLog(_ context.Context, id, entry string) (*task.Task, error) {
	return s.mutate(id, func(t *task.Task) { t.ExecutionLogs = append(t.ExecutionLogs, entry) })
}

func (s *TaskStore) mutate(id string, fn func(*task.Task)) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	fn(t)
	t.UpdatedAt = s.now().UTC()
	return clone(t), nil
}

func clone(t *task.Task) *task.Task {
	c := *t
	c.SubTaskIDs = slices.Clone(t.SubTaskIDs)
	c.ExecutionLogs = slices.Clone(t.ExecutionLogs)
	if c.SubTaskIDs == nil {
		c.SubTaskIDs = []string{}
	}
	if c.ExecutionLogs == nil {
		c.ExecutionLogs = []string{}
	}
	return &c
}
