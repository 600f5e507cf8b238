// Package sqlite provides a file-backed conversation state store for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Register the pure-Go sqlite driver.

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
)

// StateStore implements statestore.Store on SQLite. Writes go through one
// mutex; WAL mode keeps reads concurrent.
type StateStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens the database at path, creating parent directories, enabling
// WAL mode and applying the schema.
func Open(path string) (*StateStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &StateStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *StateStore) Path() string { return s.path }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversation_states (
		state_id         TEXT PRIMARY KEY,
		conversation_id  TEXT NOT NULL,
		task_id          TEXT NOT NULL,
		messages         TEXT NOT NULL DEFAULT '[]',
		plan_activity_id TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_states_task ON conversation_states (task_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_states_conversation ON conversation_states (conversation_id, created_at)`,
}

func (s *StateStore) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema step %d: %w", i+1, err)
		}
	}
	return nil
}

const stateColumns = `state_id, conversation_id, task_id, messages, plan_activity_id, created_at`

func (s *StateStore) Insert(ctx context.Context, st *conversation.State) error {
	msgs, err := encodeMessages(st.Messages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_states (`+stateColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		st.StateID, st.ConversationID, st.TaskID, msgs, st.PlanActivityID, st.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("state %s: %w", st.StateID, domain.ErrConflict)
		}
		return fmt.Errorf("insert state %s: %w", st.StateID, err)
	}
	return nil
}

func (s *StateStore) Latest(ctx context.Context, taskID string) (*conversation.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM conversation_states
		 WHERE task_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, taskID)
	st, err := scanState(row)
	if err != nil {
		return nil, notFound(err, "state for task %s", taskID)
	}
	return &st, nil
}

func (s *StateStore) ListByConversation(ctx context.Context, conversationID string) ([]conversation.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stateColumns+` FROM conversation_states
		 WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list states for %s: %w", conversationID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []conversation.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *StateStore) AppendMessage(ctx context.Context, stateID string, msg conversation.Message) (*conversation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := scanState(tx.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM conversation_states WHERE state_id = ?`, stateID))
	if err != nil {
		return nil, notFound(err, "append to state %s", stateID)
	}
	st.Messages = append(st.Messages, msg)

	msgs, err := encodeMessages(st.Messages)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversation_states SET messages = ? WHERE state_id = ?`, msgs, stateID); err != nil {
		return nil, fmt.Errorf("append to state %s: %w", stateID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return &st, nil
}

func (s *StateStore) SetPlanActivityID(ctx context.Context, stateID, activityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_states SET plan_activity_id = ? WHERE state_id = ?`, activityID, stateID)
	if err != nil {
		return fmt.Errorf("set plan activity on state %s: %w", stateID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("state %s: %w", stateID, domain.ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanState(row scannable) (conversation.State, error) {
	var (
		st      conversation.State
		msgs    string
		created int64
	)
	if err := row.Scan(&st.StateID, &st.ConversationID, &st.TaskID, &msgs, &st.PlanActivityID, &created); err != nil {
		return st, err
	}
	if err := json.Unmarshal([]byte(msgs), &st.Messages); err != nil {
		return st, fmt.Errorf("decode messages of %s: %w", st.StateID, err)
	}
	if st.Messages == nil {
		st.Messages = []conversation.Message{}
	}
	st.CreatedAt = time.Unix(0, created).UTC()
	return st, nil
}

func encodeMessages(msgs []conversation.Message) (string, error) {
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("marshal messages: %w", err)
	}
	return string(data), nil
}

func notFound(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
