// Package task defines the Task domain entity.
package task

import (
	"fmt"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain"
)

// Status represents the current state of a task.
type Status string

const (
	StatusTodo                   Status = "Todo"
	StatusInProgress             Status = "InProgress"
	StatusWaitingForUserResponse Status = "WaitingForUserResponse"
	StatusError                  Status = "Error"
	StatusDone                   Status = "Done"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusWaitingForUserResponse, StatusError, StatusDone:
		return true
	}
	return false
}

// IsTerminal reports whether no further work happens for the status.
func (s Status) IsTerminal() bool { return s == StatusDone }

// IsBlocked reports whether the task needs outside input to move on.
func (s Status) IsBlocked() bool {
	return s == StatusWaitingForUserResponse || s == StatusError
}

// Task represents a unit of work. A root task owns an ordered list of
// subtasks; a subtask is always a leaf assigned to one agent.
type Task struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Status        Status    `json:"status"`
	AssignedTo    string    `json:"assignedTo,omitempty"`
	CreatedBy     string    `json:"createdBy"`
	ParentID      string    `json:"parentId,omitempty"`
	SubTaskIDs    []string  `json:"subTaskIds"`
	ExecutionLogs []string  `json:"executionLogs"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsSubtask reports whether the task has a parent.
func (t *Task) IsSubtask() bool { return t.ParentID != "" }

// HasSubtasks reports whether the task drives children.
func (t *Task) HasSubtasks() bool { return len(t.SubTaskIDs) > 0 }

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
	AssignedTo  string `json:"assignedTo,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

// Validate checks the required fields.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if r.CreatedBy == "" {
		return fmt.Errorf("%w: createdBy is required", domain.ErrValidation)
	}
	return nil
}

// Filter narrows ListTasks. Zero values match everything.
type Filter struct {
	Status     Status   `json:"status,omitempty"`
	AssignedTo string   `json:"assignedTo,omitempty"`
	IDs        []string `json:"ids,omitempty"`
}

// Match reports whether t satisfies the filter.
func (f Filter) Match(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == t.ID {
				return true
			}
		}
		return false
	}
	return true
}
