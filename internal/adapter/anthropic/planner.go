package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/plan"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/planner"
)

const planSystem = `You are the conductor of a team of agents. Break the user's request into
an ordered list of subtasks. Each subtask is handled by exactly one agent from
the list you are given, one after another. Use as few subtasks as the request
needs. Reply with a single JSON object and nothing else:
{"title": "...", "description": "...", "subTasks": [{"title": "...", "description": "...", "agentId": "..."}]}`

const clarifySystem = `A delegate agent working on a task asked a question. Decide whether the
conversation transcript already answers it. Reply with a single JSON object and
nothing else: {"answer": "..."} when the transcript answers the question, or
{"questionForUser": "..."} with a short question for the user otherwise.`

const draftSystem = `Write a short briefing (at most three sentences) for an agent about to work
on a subtask. Include only context from the conversation that the agent needs.
Reply with the briefing text only. Reply with an empty message if nothing in
the conversation is relevant.`

// Planner asks the model for a plan over the available agents.
type Planner struct{ c *Client }

// NewPlanner wraps c.
func NewPlanner(c *Client) *Planner { return &Planner{c: c} }

func (p *Planner) Plan(ctx context.Context, req planner.Request) (plan.Plan, error) {
	if len(req.Agents) == 0 {
		return plan.Plan{}, fmt.Errorf("%w: no agents available", domain.ErrValidation)
	}

	var b strings.Builder
	b.WriteString("Agents:\n")
	known := make(map[string]bool, len(req.Agents))
	for _, a := range req.Agents {
		known[a.ID] = true
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.DisplayName(), a.Description)
	}
	if len(req.History) > 0 {
		b.WriteString("\nEarlier conversation:\n")
		b.WriteString(transcript(req.History))
		b.WriteString("\n")
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(req.Text)

	var out plan.Plan
	if err := p.c.completeJSON(ctx, planSystem, b.String(), &out); err != nil {
		return plan.Plan{}, fmt.Errorf("plan: %w", err)
	}
	if out.Title == "" {
		out.Title = req.Text
	}
	for i, s := range out.SubTasks {
		if !known[s.AgentID] {
			return plan.Plan{}, fmt.Errorf("%w: subtask %d names unknown agent %q", domain.ErrValidation, i, s.AgentID)
		}
	}
	return out, nil
}

// Clarifier answers delegate questions from the transcript when it can.
type Clarifier struct{ c *Client }

// NewClarifier wraps c.
func NewClarifier(c *Client) *Clarifier { return &Clarifier{c: c} }

func (cl *Clarifier) AnswerClarification(ctx context.Context, history []conversation.Message, question string) (planner.Resolution, error) {
	user := "Transcript:\n" + transcript(history) + "\n\nQuestion from the agent:\n" + question

	var out struct {
		Answer          string `json:"answer"`
		QuestionForUser string `json:"questionForUser"`
	}
	if err := cl.c.completeJSON(ctx, clarifySystem, user, &out); err != nil {
		return planner.Resolution{}, fmt.Errorf("clarify: %w", err)
	}
	if a := strings.TrimSpace(out.Answer); a != "" {
		return planner.Resolution{Answer: a}, nil
	}
	q := strings.TrimSpace(out.QuestionForUser)
	if q == "" {
		q = "Question: " + question
	}
	return planner.Resolution{QuestionForUser: q}, nil
}

// Drafter writes the briefing sent with a subtask's first message.
type Drafter struct{ c *Client }

// NewDrafter wraps c.
func NewDrafter(c *Client) *Drafter { return &Drafter{c: c} }

func (d *Drafter) DraftDelegation(ctx context.Context, t *task.Task, parentHistory []conversation.Message) (string, error) {
	if len(parentHistory) == 0 {
		return "", nil
	}
	user := fmt.Sprintf("Conversation:\n%s\n\nSubtask: %s\n%s", transcript(parentHistory), t.Title, t.Description)
	text, err := d.c.complete(ctx, draftSystem, user)
	if err != nil {
		return "", fmt.Errorf("draft delegation: %w", err)
	}
	return strings.TrimSpace(text), nil
}
