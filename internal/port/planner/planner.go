// Package planner defines the LLM-facing ports: request decomposition,
// clarification answering and delegation drafting.
package planner

import (
	"context"

	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/plan"
	"github.com/heyitsaamir/conductor/internal/domain/task"
)

// Request is the input to Planner.Plan.
type Request struct {
	Text string
	// History is the transcript tail of a finished plan in the same
	// conversation, when the new request chains onto it.
	History []conversation.Message
	Agents  []agent.Agent
}

// Planner turns a free-text request into an ordered plan.
type Planner interface {
	Plan(ctx context.Context, req Request) (plan.Plan, error)
}

// Resolution is the result of AnswerClarification. Exactly one field is set.
type Resolution struct {
	Answer          string
	QuestionForUser string
}

// Answered reports whether the conductor could answer on its own.
func (r Resolution) Answered() bool { return r.Answer != "" }

// Clarifier decides whether a delegate's question can be answered from the
// transcript or must be escalated to the user.
type Clarifier interface {
	AnswerClarification(ctx context.Context, history []conversation.Message, question string) (Resolution, error)
}

// Drafter writes the short delegation summary sent with a subtask's first
// message. An empty summary is valid.
type Drafter interface {
	DraftDelegation(ctx context.Context, t *task.Task, parentHistory []conversation.Message) (string, error)
}
