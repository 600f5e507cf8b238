package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/task"
)

// taskColumns selects a task row as t, with its children in creation order.
const taskColumns = `t.id::text, t.title, t.description, t.status, t.assigned_to, t.created_by,
	COALESCE(t.parent_id::text, ''),
	ARRAY(SELECT c.id::text FROM tasks c WHERE c.parent_id = t.id ORDER BY c.position, c.created_at),
	t.execution_logs, t.created_at, t.updated_at`

// TaskStore implements taskstore.Store using PostgreSQL.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a TaskStore backed by the given connection pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

func (s *TaskStore) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	position := 0
	if req.ParentID != "" {
		// Lock the parent so concurrent children get distinct positions.
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id::text FROM tasks WHERE id = $1 FOR UPDATE`, req.ParentID).Scan(&locked); err != nil {
			return nil, notFoundWrap(err, "parent task %s", req.ParentID)
		}
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_id = $1`, req.ParentID).Scan(&position); err != nil {
			return nil, fmt.Errorf("count subtasks of %s: %w", req.ParentID, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE tasks SET updated_at = now() WHERE id = $1`, req.ParentID); err != nil {
			return nil, fmt.Errorf("touch parent %s: %w", req.ParentID, err)
		}
	}

	var id string
	err = tx.QueryRow(ctx,
		`INSERT INTO tasks (title, description, assigned_to, created_by, parent_id, position)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id::text`,
		req.Title, req.Description, req.AssignedTo, req.CreatedBy, nullIfEmpty(req.ParentID), position,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create task: %w", err)
	}
	return s.GetTask(ctx, id)
}

func (s *TaskStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *TaskStore) GetSubtasks(ctx context.Context, id string) ([]task.Task, error) {
	if _, err := s.GetTask(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks t WHERE t.parent_id = $1 ORDER BY t.position, t.created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("get subtasks of %s: %w", id, err)
	}
	return collectTasks(rows)
}

func (s *TaskStore) ListTasks(ctx context.Context, filter task.Filter) ([]task.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		where = append(where, fmt.Sprintf("t.assigned_to = $%d", len(args)))
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		where = append(where, fmt.Sprintf("t.id::text = ANY($%d)", len(args)))
	}

	q := `SELECT ` + taskColumns + ` FROM tasks t`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY t.created_at, t.position`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *TaskStore) UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err := execExpectOne(tag, err, "update task %s", id); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

func (s *TaskStore) AddExecutionLog(ctx context.Context, id, entry string) (*task.Task, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET execution_logs = array_append(execution_logs, $2), updated_at = now() WHERE id = $1`, id, entry)
	if err := execExpectOne(tag, err, "log on task %s", id); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

func scanTask(row scannable) (task.Task, error) {
	var (
		t      task.Task
		status string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.AssignedTo, &t.CreatedBy,
		&t.ParentID, &t.SubTaskIDs, &t.ExecutionLogs, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Status = task.Status(status)
	t.SubTaskIDs = pgTextArray(t.SubTaskIDs)
	t.ExecutionLogs = pgTextArray(t.ExecutionLogs)
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]task.Task, error) {
	defer rows.Close()
	out := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
