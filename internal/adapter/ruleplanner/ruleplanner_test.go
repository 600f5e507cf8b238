package ruleplanner

import (
	"context"
	"errors"
	"testing"

	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/port/planner"
)

var (
	_ planner.Planner   = (*Planner)(nil)
	_ planner.Clarifier = (*Planner)(nil)
)

var agents = []agent.Agent{
	{ID: "lead-qualification", URL: "http://a"},
	{ID: "meeting-coordinator", URL: "http://b"},
}

func TestTemplates(t *testing.T) {
	tests := []struct {
		text      string
		firstStep string
		steps     int
	}{
		{"Build a web application", "Design UI/UX mockups", 5},
		{"please write a blog post about Go", "Research topic", 5},
		{"Deploy an application to prod", "Set up deployment environment", 5},
		{"Qualify this lead", "Qualify this lead", 1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			p, err := New().Plan(context.Background(), planner.Request{Text: tt.text, Agents: agents})
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if err := p.Validate(); err != nil {
				t.Fatalf("invalid plan: %v", err)
			}
			if p.Title != tt.text || p.Description != "Plan for: "+tt.text {
				t.Fatalf("unexpected header %q / %q", p.Title, p.Description)
			}
			if len(p.SubTasks) != tt.steps || p.SubTasks[0].Title != tt.firstStep {
				t.Fatalf("unexpected steps %+v", p.SubTasks)
			}
			if p.SubTasks[0].Description != "Execute task: "+tt.firstStep {
				t.Fatalf("unexpected description %q", p.SubTasks[0].Description)
			}
		})
	}
}

func TestRoundRobinAgents(t *testing.T) {
	p, err := New().Plan(context.Background(), planner.Request{Text: "write a blog post", Agents: agents})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"lead-qualification", "meeting-coordinator", "lead-qualification", "meeting-coordinator", "lead-qualification"}
	for i, s := range p.SubTasks {
		if s.AgentID != want[i] {
			t.Fatalf("step %d assigned to %s, want %s", i, s.AgentID, want[i])
		}
	}
}

func TestPlanErrors(t *testing.T) {
	if _, err := New().Plan(context.Background(), planner.Request{Text: "x"}); !errors.Is(err, ErrNoAgents) {
		t.Fatalf("expected ErrNoAgents, got %v", err)
	}
	if _, err := New().Plan(context.Background(), planner.Request{Text: "  ", Agents: agents}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestClarificationEscalates(t *testing.T) {
	res, err := New().AnswerClarification(context.Background(), nil, "which region?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answered() || res.QuestionForUser != "Question: which region?" {
		t.Fatalf("unexpected resolution %+v", res)
	}
}
