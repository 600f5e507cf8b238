package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heyitsaamir/conductor/internal/adapter/memory"
	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/message"
	"github.com/heyitsaamir/conductor/internal/domain/plan"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/notifier"
	"github.com/heyitsaamir/conductor/internal/port/planner"
)

const testAgentID = "lead-qualification"

type fakeDirectory struct {
	agents map[string]agent.Agent
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{agents: map[string]agent.Agent{
		testAgentID: {ID: testAgentID, Name: "Lead Qualification", URL: "http://localhost:4000"},
	}}
}

func (d *fakeDirectory) Get(_ context.Context, id string) (agent.Agent, error) {
	a, ok := d.agents[id]
	if !ok {
		return agent.Agent{}, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (d *fakeDirectory) List(_ context.Context) ([]agent.Agent, error) {
	out := make([]agent.Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a)
	}
	return out, nil
}

type sentDo struct {
	to  agent.Agent
	msg message.Do
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentDo
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, to agent.Agent, msg message.Do) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentDo{to: to, msg: msg})
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *fakeDispatcher) last(t *testing.T) sentDo {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sent, "nothing dispatched")
	return d.sent[len(d.sent)-1]
}

type fakePlanner struct {
	plan plan.Plan
	err  error
	reqs []planner.Request
}

func (p *fakePlanner) Plan(_ context.Context, req planner.Request) (plan.Plan, error) {
	p.reqs = append(p.reqs, req)
	return p.plan, p.err
}

type fakeClarifier struct {
	res       planner.Resolution
	err       error
	questions []string
}

func (c *fakeClarifier) AnswerClarification(_ context.Context, _ []conversation.Message, question string) (planner.Resolution, error) {
	c.questions = append(c.questions, question)
	return c.res, c.err
}

type fakeDrafter struct{ summary string }

func (d fakeDrafter) DraftDelegation(context.Context, *task.Task, []conversation.Message) (string, error) {
	return d.summary, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	caps    notifier.Capabilities
	sent    []notifier.Notification
	nextID  int
	sendErr error
}

func (n *fakeNotifier) Name() string                        { return "fake" }
func (n *fakeNotifier) Capabilities() notifier.Capabilities { return n.caps }

func (n *fakeNotifier) Send(_ context.Context, msg notifier.Notification) (notifier.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return notifier.Receipt{}, n.sendErr
	}
	n.sent = append(n.sent, msg)
	if msg.ActivityID != "" {
		return notifier.Receipt{ActivityID: msg.ActivityID}, nil
	}
	n.nextID++
	return notifier.Receipt{ActivityID: fmt.Sprintf("activity-%d", n.nextID)}, nil
}

// texts returns the text replies, skipping plan cards.
func (n *fakeNotifier) texts() []notifier.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.Notification
	for _, m := range n.sent {
		if m.Card == nil {
			out = append(out, m)
		}
	}
	return out
}

func (n *fakeNotifier) bySource(source string) []notifier.Notification {
	var out []notifier.Notification
	for _, m := range n.texts() {
		if m.Source == source {
			out = append(out, m)
		}
	}
	return out
}

func (n *fakeNotifier) cards() []notifier.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.Notification
	for _, m := range n.sent {
		if m.Card != nil {
			out = append(out, m)
		}
	}
	return out
}

// harness wires the services over in-memory stores.
type harness struct {
	tasks      *memory.TaskStore
	states     *StateService
	agents     *fakeDirectory
	dispatcher *fakeDispatcher
	planner    *fakePlanner
	clarifier  *fakeClarifier
	chat       *fakeNotifier
	executor   *ExecutorService
	notify     *ConversationNotifier
	conductor  *ConductorService
}

func newHarness() *harness {
	h := &harness{
		tasks:      memory.NewTaskStore(),
		agents:     newFakeDirectory(),
		dispatcher: &fakeDispatcher{},
		planner:    &fakePlanner{},
		clarifier:  &fakeClarifier{},
		chat:       &fakeNotifier{caps: notifier.Capabilities{UpdateInPlace: true}},
	}
	h.states = NewStateService(memory.NewStateStore())
	h.executor = NewExecutorService(h.tasks, h.states, h.agents, h.dispatcher)
	h.notify = NewConversationNotifier(h.tasks, h.states, h.chat)
	h.conductor = NewConductorService(h.tasks, h.states, h.executor, h.planner, h.clarifier, h.agents, h.notify)
	return h
}

func twoStepPlan() plan.Plan {
	return plan.Plan{
		Title:       "Qualify leads",
		Description: "Find and qualify new leads",
		SubTasks: []plan.SubTask{
			{Title: "Research", Description: "Research the market", AgentID: testAgentID},
			{Title: "Outreach", Description: "Contact the leads", AgentID: testAgentID},
		},
	}
}

// seedPlan stores a parent with one subtask per description, plus states.
func (h *harness) seedPlan(t *testing.T, convID string, descriptions ...string) (*task.Task, []task.Task) {
	t.Helper()
	ctx := context.Background()

	parent, err := h.tasks.CreateTask(ctx, task.CreateRequest{Title: "Plan", CreatedBy: agent.ConductorID, AssignedTo: agent.ConductorID})
	require.NoError(t, err)
	_, err = h.states.CreateInitialState(ctx, parent.ID, convID, []conversation.Message{conversation.UserMessage("help me")})
	require.NoError(t, err)

	for i, d := range descriptions {
		sub, err := h.tasks.CreateTask(ctx, task.CreateRequest{
			Title:       fmt.Sprintf("Step %d", i+1),
			Description: d,
			CreatedBy:   agent.ConductorID,
			AssignedTo:  testAgentID,
			ParentID:    parent.ID,
		})
		require.NoError(t, err)
		_, err = h.states.CreateInitialState(ctx, sub.ID, convID, nil)
		require.NoError(t, err)
	}

	parent, err = h.tasks.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	subtasks, err := h.tasks.GetSubtasks(ctx, parent.ID)
	require.NoError(t, err)
	return parent, subtasks
}

func (h *harness) task(t *testing.T, id string) *task.Task {
	t.Helper()
	got, err := h.tasks.GetTask(context.Background(), id)
	require.NoError(t, err)
	return got
}

func (h *harness) setStatus(t *testing.T, id string, s task.Status) {
	t.Helper()
	_, err := h.tasks.UpdateTaskStatus(context.Background(), id, s)
	require.NoError(t, err)
}
