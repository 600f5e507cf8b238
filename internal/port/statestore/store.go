// Package statestore defines the port for persisting conversation states.
package statestore

import (
	"context"

	"github.com/heyitsaamir/conductor/internal/domain/conversation"
)

// Store persists conversation states keyed by state id, with lookups by
// task id (most recent first) and by conversation id.
//
// Writes for one task must be serialized by the implementation; callers do
// not hold cross-key transactions. Missing states are reported as
// domain.ErrNotFound.
type Store interface {
	// Insert stores a new state. It does not check for an existing state
	// for the same task; that guard lives in the state manager.
	Insert(ctx context.Context, s *conversation.State) error

	// Latest returns the most recently created state for taskID.
	Latest(ctx context.Context, taskID string) (*conversation.State, error)

	// ListByConversation returns every state of a conversation, oldest first.
	ListByConversation(ctx context.Context, conversationID string) ([]conversation.State, error)

	// AppendMessage appends msg to the state identified by stateID and
	// returns the updated state.
	AppendMessage(ctx context.Context, stateID string, msg conversation.Message) (*conversation.State, error)

	// SetPlanActivityID records the chat handle of the rendered plan card.
	SetPlanActivityID(ctx context.Context, stateID, activityID string) error
}
