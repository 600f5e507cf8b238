package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
)

const uniqueViolation = "23505"

const stateColumns = `state_id, conversation_id, task_id, messages, plan_activity_id, created_at`

// StateStore implements statestore.Store using PostgreSQL.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

func (s *StateStore) Insert(ctx context.Context, st *conversation.State) error {
	msgs, err := json.Marshal(orEmpty(st.Messages))
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_states (state_id, conversation_id, task_id, messages, plan_activity_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		st.StateID, st.ConversationID, st.TaskID, msgs, st.PlanActivityID, st.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("state %s: %w", st.StateID, domain.ErrConflict)
		}
		return fmt.Errorf("insert state %s: %w", st.StateID, err)
	}
	return nil
}

func (s *StateStore) Latest(ctx context.Context, taskID string) (*conversation.State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM conversation_states
		 WHERE task_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, taskID)
	st, err := scanState(row)
	if err != nil {
		return nil, notFoundWrap(err, "state for task %s", taskID)
	}
	return &st, nil
}

func (s *StateStore) ListByConversation(ctx context.Context, conversationID string) ([]conversation.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stateColumns+` FROM conversation_states
		 WHERE conversation_id = $1 ORDER BY created_at, seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list states for %s: %w", conversationID, err)
	}
	defer rows.Close()

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

// AppendMessage appends in a single statement, so concurrent appends to one
// state never lose a message.
func (s *StateStore) AppendMessage(ctx context.Context, stateID string, msg conversation.Message) (*conversation.State, error) {
	data, err := json.Marshal([]conversation.Message{msg})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE conversation_states SET messages = messages || $2::jsonb
		 WHERE state_id = $1
		 RETURNING `+stateColumns, stateID, data)
	st, err := scanState(row)
	if err != nil {
		return nil, notFoundWrap(err, "append to state %s", stateID)
	}
	return &st, nil
}

func (s *StateStore) SetPlanActivityID(ctx context.Context, stateID, activityID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversation_states SET plan_activity_id = $2 WHERE state_id = $1`, stateID, activityID)
	return execExpectOne(tag, err, "set plan activity on state %s", stateID)
}

func scanState(row scannable) (conversation.State, error) {
	var (
		st   conversation.State
		msgs []byte
	)
	if err := row.Scan(&st.StateID, &st.ConversationID, &st.TaskID, &msgs, &st.PlanActivityID, &st.CreatedAt); err != nil {
		return st, err
	}
	if err := json.Unmarshal(msgs, &st.Messages); err != nil {
		return st, fmt.Errorf("decode messages of %s: %w", st.StateID, err)
	}
	st.Messages = orEmpty(st.Messages)
	return st, nil
}
