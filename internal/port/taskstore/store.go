// Package taskstore defines the port for persisting tasks.
package taskstore

import (
	"context"

	"github.com/heyitsaamir/conductor/internal/domain/task"
)

// Store persists tasks. Implementations must keep SubTaskIDs in creation
// order, refresh UpdatedAt on every mutation, and treat UpdateTaskStatus
// as idempotent. Missing tasks are reported as domain.ErrNotFound.
type Store interface {
	// CreateTask stores a new task in status Todo. When ParentID is set the
	// new id is appended to the parent's SubTaskIDs.
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	// GetSubtasks returns the children of id in SubTaskIDs order.
	GetSubtasks(ctx context.Context, id string) ([]task.Task, error)
	ListTasks(ctx context.Context, filter task.Filter) ([]task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error)
	AddExecutionLog(ctx context.Context, id, entry string) (*task.Task, error)
}
