// Package ruleplanner implements the planner ports with fixed templates.
// It needs no model access and backs local development and tests.
package ruleplanner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/plan"
	"github.com/heyitsaamir/conductor/internal/port/planner"
)

// ErrNoAgents is returned when the directory is empty.
var ErrNoAgents = errors.New("no agents available")

type template struct {
	keyword string
	steps   []string
}

var templates = []template{
	{"build a web application", []string{
		"Design UI/UX mockups",
		"Set up project structure",
		"Implement frontend components",
		"Create backend API",
		"Write tests",
	}},
	{"write a blog post", []string{
		"Research topic",
		"Create outline",
		"Write first draft",
		"Edit and proofread",
		"Add images and formatting",
	}},
	{"deploy an application", []string{
		"Set up deployment environment",
		"Configure CI/CD pipeline",
		"Deploy to staging",
		"Run integration tests",
		"Deploy to production",
	}},
}

// Planner matches the request against the templates. Anything else becomes
// a single step carrying the request itself.
type Planner struct{}

// New returns a rule planner.
func New() *Planner { return &Planner{} }

func (p *Planner) Plan(_ context.Context, req planner.Request) (plan.Plan, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return plan.Plan{}, fmt.Errorf("%w: empty request", domain.ErrValidation)
	}
	if len(req.Agents) == 0 {
		return plan.Plan{}, ErrNoAgents
	}

	steps := []string{text}
	lower := strings.ToLower(text)
	for _, t := range templates {
		if strings.Contains(lower, t.keyword) {
			steps = t.steps
			break
		}
	}

	out := plan.Plan{
		Title:       text,
		Description: "Plan for: " + text,
		SubTasks:    make([]plan.SubTask, len(steps)),
	}
	for i, step := range steps {
		out.SubTasks[i] = plan.SubTask{
			Title:       step,
			Description: "Execute task: " + step,
			AgentID:     req.Agents[i%len(req.Agents)].ID,
		}
	}
	return out, nil
}

// AnswerClarification always escalates to the user.
func (p *Planner) AnswerClarification(_ context.Context, _ []conversation.Message, question string) (planner.Resolution, error) {
	return planner.Resolution{QuestionForUser: "Question: " + question}, nil
}
