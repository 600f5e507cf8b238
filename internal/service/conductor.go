package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	cfotel "github.com/heyitsaamir/conductor/internal/adapter/otel"
	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/message"
	"github.com/heyitsaamir/conductor/internal/domain/plan"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/logger"
	"github.com/heyitsaamir/conductor/internal/port/agentdirectory"
	"github.com/heyitsaamir/conductor/internal/port/planner"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
)

const (
	completionText  = "All tasks completed"
	cancelReplyText = "Sounds good. Marking the task as cancelled."
	cancelLogText   = "Cancelled by user"
	timeoutText     = "timed out waiting for agent"
	busyText        = "I'm still working on your previous request. I'll let you know when I need your input."
	haltedText      = "The current plan stopped on a failed step. Deny the plan to cancel it before starting a new one."
	noActiveText    = "There is no active task to cancel."

	defaultHistoryTail = 10
)

// ConductorService is the orchestrating agent. It turns user messages (do)
// into plans, folds agent results (did) back into the workflow, and decides
// when to involve the user. Work for one conversation is serialized.
type ConductorService struct {
	tasks       taskstore.Store
	states      *StateService
	executor    *ExecutorService
	planner     planner.Planner
	clarifier   planner.Clarifier
	agents      agentdirectory.Directory
	notify      *ConversationNotifier
	events      *EventPublisher
	metrics     *cfotel.Metrics
	locks       stripedLock
	historyTail int
	now         func() time.Time
}

// NewConductorService creates a ConductorService with all dependencies.
func NewConductorService(
	tasks taskstore.Store,
	states *StateService,
	executor *ExecutorService,
	pl planner.Planner,
	cl planner.Clarifier,
	agents agentdirectory.Directory,
	notify *ConversationNotifier,
) *ConductorService {
	return &ConductorService{
		tasks:       tasks,
		states:      states,
		executor:    executor,
		planner:     pl,
		clarifier:   cl,
		agents:      agents,
		notify:      notify,
		historyTail: defaultHistoryTail,
		now:         time.Now,
	}
}

// SetEvents sets the workflow event publisher.
func (s *ConductorService) SetEvents(p *EventPublisher) { s.events = p }

// SetMetrics sets the metric instruments.
func (s *ConductorService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// SetHistoryTail sets how many messages of a finished plan are carried into
// the next plan of the same conversation.
func (s *ConductorService) SetHistoryTail(n int) {
	if n > 0 {
		s.historyTail = n
	}
}

// Handle routes a decoded envelope.
func (s *ConductorService) Handle(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.Do:
		return s.HandleDo(ctx, m)
	case message.Did:
		return s.HandleDid(ctx, m)
	default:
		return fmt.Errorf("%w: unsupported message %T", domain.ErrValidation, msg)
	}
}

// HandleDo handles a user message. If the conversation has an unfinished
// plan, the text answers its one blocked subtask; otherwise a new plan is
// created and started.
func (s *ConductorService) HandleDo(ctx context.Context, do message.Do) error {
	convID := do.Params.ConversationID
	if convID == "" {
		return fmt.Errorf("%w: do.params.conversationId is required", domain.ErrValidation)
	}
	if err := do.Validate(); err != nil {
		return err
	}

	ctx = logger.WithConversationID(ctx, convID)
	ctx, span := cfotel.StartDoSpan(ctx, convID)
	defer span.End()

	ctx, ob := withOutbox(ctx)
	defer s.flush(ctx, ob)
	unlock := s.locks.lock(convID)
	defer unlock()

	parent, err := s.latestParent(ctx, convID)
	if err != nil {
		return err
	}

	if parent != nil && planActive(parent) {
		return s.resumeBlocked(ctx, convID, parent, do.Params.Message)
	}

	var history []conversation.Message
	if parent != nil {
		st, err := s.states.GetStateByTaskID(ctx, parent.ID)
		if err != nil {
			return err
		}
		if st != nil {
			history = st.Tail(s.historyTail)
		}
	}
	return s.startPlan(ctx, convID, do.Params.Message, history)
}

// HandleDid handles an agent's result for a subtask. Like HandleDo, it sends
// the next subtask only after the conversation lock is released; an agent may
// post its result before its dispatch returns.
func (s *ConductorService) HandleDid(ctx context.Context, did message.Did) error {
	if err := did.Validate(); err != nil {
		return err
	}

	ctx = logger.WithTaskID(ctx, did.TaskID)
	ctx, span := cfotel.StartDidSpan(ctx, did.TaskID, string(did.Status()))
	defer span.End()

	st, err := s.states.GetStateByTaskID(ctx, did.TaskID)
	if err != nil {
		return err
	}
	lockKey := "task:" + did.TaskID
	if st != nil {
		lockKey = st.ConversationID
		ctx = logger.WithConversationID(ctx, st.ConversationID)
	}
	ctx, ob := withOutbox(ctx)
	defer s.flush(ctx, ob)
	unlock := s.locks.lock(lockKey)
	defer unlock()

	updated, err := s.executor.HandleSubtaskResult(ctx, did)
	if errors.Is(err, domain.ErrConflict) {
		slog.WarnContext(ctx, "ignoring result for finished or failed subtask", "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	s.events.TaskStatus(ctx, stateConversation(st), updated, string(did.Status()))

	if st == nil {
		slog.ErrorContext(ctx, "no conversation state for task")
		return nil
	}

	switch o := did.Outcome.(type) {
	case message.Success:
		return s.onSuccess(ctx, st.ConversationID, updated, textOr(o.Message, defaultSuccessText))
	case message.Failure:
		return s.onFailure(ctx, st.ConversationID, updated, textOr(o.Message, defaultErrorText), SourceSubtaskFailed)
	case message.Clarification:
		return s.onClarification(ctx, st.ConversationID, updated, o.Message)
	default:
		return fmt.Errorf("%w: unknown outcome %T", domain.ErrValidation, did.Outcome)
	}
}

// Cancel marks the conversation's unfinished plan as failed at the user's
// request.
func (s *ConductorService) Cancel(ctx context.Context, conversationID string) error {
	ctx = logger.WithConversationID(ctx, conversationID)
	unlock := s.locks.lock(conversationID)
	defer unlock()

	parent, err := s.latestParent(ctx, conversationID)
	if err != nil {
		return err
	}
	if parent == nil || !planActive(parent) {
		s.notify.Reply(ctx, conversationID, noActiveText, levelInfo, SourceConductor)
		return nil
	}

	if _, err := s.tasks.UpdateTaskStatus(ctx, parent.ID, task.StatusError); err != nil {
		return fmt.Errorf("cancel task %s: %w", parent.ID, err)
	}
	if _, err := s.tasks.AddExecutionLog(ctx, parent.ID, cancelLogText); err != nil {
		return fmt.Errorf("log cancel on %s: %w", parent.ID, err)
	}
	s.appendMessage(ctx, conversationID, parent.ID, conversation.AssistantMessage(cancelReplyText))
	s.notify.Reply(ctx, conversationID, cancelReplyText, levelInfo, SourceConductor)
	s.refreshPlan(ctx, parent.ID)
	slog.InfoContext(ctx, "plan cancelled", "task_id", parent.ID)
	return nil
}

// ExpireSubtask fails a subtask that has been InProgress since before
// deadline. It re-checks under the conversation lock so a result that
// raced the watchdog wins. It reports whether the subtask was expired.
func (s *ConductorService) ExpireSubtask(ctx context.Context, taskID string, deadline time.Time) (bool, error) {
	st, err := s.states.GetStateByTaskID(ctx, taskID)
	if err != nil {
		return false, err
	}
	lockKey := "task:" + taskID
	if st != nil {
		lockKey = st.ConversationID
	}
	unlock := s.locks.lock(lockKey)
	defer unlock()

	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if t.Status != task.StatusInProgress || !t.UpdatedAt.Before(deadline) {
		return false, nil
	}

	updated, err := s.executor.HandleSubtaskResult(ctx, message.Did{
		TaskID:  taskID,
		Outcome: message.Failure{Code: 408, Message: timeoutText},
	})
	if err != nil {
		return false, err
	}
	s.events.Timeout(ctx, updated, s.now().Sub(t.UpdatedAt))
	if st == nil {
		slog.ErrorContext(ctx, "expired subtask has no conversation state", "task_id", taskID)
		return true, nil
	}
	return true, s.onFailure(ctx, st.ConversationID, updated, timeoutText, SourceWatchdog)
}

// flush sends the dispatches queued under the conversation lock. A failed
// send fails its subtask, unless the agent already reported back, and
// apologizes to the user.
func (s *ConductorService) flush(ctx context.Context, ob *outbox) {
	for _, p := range ob.pending {
		err := s.executor.send(ctx, p)
		if err == nil {
			continue
		}
		slog.ErrorContext(ctx, "dispatch failed", "task_id", p.task.ID, "agent_id", p.agent.ID, "error", err)
		s.onDispatchFailed(ctx, p, err)
	}
	ob.pending = nil
}

func (s *ConductorService) onDispatchFailed(ctx context.Context, p pendingDispatch, cause error) {
	convID := p.conversationID()
	unlock := s.locks.lock(convID)
	defer unlock()

	failed, err := s.executor.failDispatch(ctx, p, cause)
	if err != nil {
		slog.ErrorContext(ctx, "recording dispatch failure failed", "task_id", p.task.ID, "error", err)
	} else if failed == nil {
		return
	}
	s.notify.Apologize(ctx, convID)
	s.refreshPlan(ctx, p.task.ParentID)
}

// resumeBlocked routes a user message to the one subtask waiting on the user.
func (s *ConductorService) resumeBlocked(ctx context.Context, convID string, parent *task.Task, text string) error {
	subtasks, err := s.tasks.GetSubtasks(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("get subtasks of %s: %w", parent.ID, err)
	}
	var blocked []task.Task
	halted := false
	for i := range subtasks {
		switch subtasks[i].Status {
		case task.StatusWaitingForUserResponse:
			blocked = append(blocked, subtasks[i])
		case task.StatusError:
			halted = true
		}
	}

	switch len(blocked) {
	case 0:
		slog.ErrorContext(ctx, "no blocked subtask for user message", "task_id", parent.ID, "halted", halted)
		reply := busyText
		if halted {
			reply = haltedText
		}
		s.notify.Reply(ctx, convID, reply, levelInfo, SourceConductor)
		return nil
	case 1:
	default:
		ids := make([]string, len(blocked))
		for i := range blocked {
			ids[i] = blocked[i].ID
		}
		slog.ErrorContext(ctx, "multiple blocked subtasks for user message", "task_id", parent.ID, "blocked", ids)
		return fmt.Errorf("conversation %s has %d blocked subtasks: %w", convID, len(blocked), domain.ErrInconsistentState)
	}

	sub := &blocked[0]
	msg := conversation.UserMessage(text)
	s.appendMessage(ctx, convID, sub.ID, msg)
	s.appendMessage(ctx, convID, parent.ID, msg)

	if _, err := s.executor.ContinueSubtask(ctx, sub); err != nil {
		slog.ErrorContext(ctx, "resume subtask failed", "task_id", sub.ID, "error", err)
		s.notify.Apologize(ctx, convID)
		return err
	}
	s.refreshPlan(ctx, parent.ID)
	return nil
}

// startPlan plans a request, persists the parent and its subtasks, seeds
// their states, shows the plan card and dispatches the first subtask.
func (s *ConductorService) startPlan(ctx context.Context, convID, text string, history []conversation.Message) error {
	agents, err := s.agents.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "list agents failed", "error", err)
		s.notify.Apologize(ctx, convID)
		return nil
	}

	p, err := s.planner.Plan(ctx, planner.Request{Text: text, History: history, Agents: agents})
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		slog.ErrorContext(ctx, "planning failed", "error", err)
		s.notify.Apologize(ctx, convID)
		return nil
	}

	parent, subtasks, err := s.savePlan(ctx, p)
	if err != nil {
		return err
	}

	seed := slices.Clone(history)
	seed = append(seed, conversation.UserMessage(text))
	if _, err := s.states.CreateInitialState(ctx, parent.ID, convID, seed); err != nil {
		return err
	}
	for i := range subtasks {
		if _, err := s.states.CreateInitialState(ctx, subtasks[i].ID, convID, nil); err != nil {
			return err
		}
	}

	if s.metrics != nil {
		s.metrics.PlansCreated.Add(ctx, 1)
	}
	s.events.PlanProgress(ctx, convID, parent, subtasks, planEventCreated)
	slog.InfoContext(ctx, "plan saved", "task_id", parent.ID, "title", parent.Title, "subtasks", len(subtasks))
	s.refreshPlan(ctx, parent.ID)

	result, err := s.executor.ContinueTask(ctx, parent)
	if err != nil {
		slog.ErrorContext(ctx, "starting plan failed", "task_id", parent.ID, "error", err)
		s.notify.Apologize(ctx, convID)
		s.refreshPlan(ctx, parent.ID)
		return nil
	}
	if result == ResultCompleted {
		return s.handleWorkflowCompletion(ctx, convID, parent.ID)
	}
	return nil
}

func (s *ConductorService) savePlan(ctx context.Context, p plan.Plan) (*task.Task, []task.Task, error) {
	parent, err := s.tasks.CreateTask(ctx, task.CreateRequest{
		Title:       p.Title,
		Description: p.Description,
		CreatedBy:   agent.ConductorID,
		AssignedTo:  agent.ConductorID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create plan task: %w", err)
	}

	subtasks := make([]task.Task, 0, len(p.SubTasks))
	for _, st := range p.SubTasks {
		sub, err := s.tasks.CreateTask(ctx, task.CreateRequest{
			Title:       st.Title,
			Description: st.Description,
			CreatedBy:   agent.ConductorID,
			AssignedTo:  st.AgentID,
			ParentID:    parent.ID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create subtask %q: %w", st.Title, err)
		}
		subtasks = append(subtasks, *sub)
	}

	// The parent was read before its children were attached.
	parent, err = s.tasks.GetTask(ctx, parent.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload plan task: %w", err)
	}
	return parent, subtasks, nil
}

func (s *ConductorService) onSuccess(ctx context.Context, convID string, sub *task.Task, text string) error {
	if s.metrics != nil {
		s.metrics.SubtasksCompleted.Add(ctx, 1)
	}
	msg := conversation.AssistantMessage(text)
	s.appendMessage(ctx, convID, sub.ID, msg)
	s.appendMessage(ctx, convID, sub.ParentID, msg)
	s.notify.Reply(ctx, convID, text, levelSuccess, SourceSubtaskCompleted)

	if _, err := s.executor.ContinueTask(ctx, sub); err != nil {
		slog.ErrorContext(ctx, "advancing plan failed", "task_id", sub.ParentID, "error", err)
		s.notify.Apologize(ctx, convID)
		s.refreshPlan(ctx, sub.ParentID)
		return nil
	}
	s.refreshPlan(ctx, sub.ParentID)
	return s.handleWorkflowCompletion(ctx, convID, sub.ParentID)
}

func (s *ConductorService) onFailure(ctx context.Context, convID string, sub *task.Task, text, source string) error {
	if s.metrics != nil {
		s.metrics.SubtasksFailed.Add(ctx, 1)
		if source == SourceWatchdog {
			s.metrics.WatchdogTimeouts.Add(ctx, 1)
		}
	}
	msg := conversation.AssistantMessage(text)
	s.appendMessage(ctx, convID, sub.ID, msg)
	s.appendMessage(ctx, convID, sub.ParentID, msg)
	s.notify.Reply(ctx, convID, text, levelError, source)
	s.refreshPlan(ctx, sub.ParentID)
	return nil
}

func (s *ConductorService) onClarification(ctx context.Context, convID string, sub *task.Task, question string) error {
	if s.metrics != nil {
		s.metrics.Clarifications.Add(ctx, 1)
	}

	var history []conversation.Message
	parentState, err := s.states.GetStateByTaskID(ctx, sub.ParentID)
	if err != nil {
		return err
	}
	if parentState != nil {
		history = parentState.Messages
	}

	res, err := s.clarifier.AnswerClarification(ctx, history, question)
	if err != nil {
		slog.WarnContext(ctx, "clarifier failed, asking the user", "error", err)
		res = planner.Resolution{QuestionForUser: "Question: " + question}
	}

	if res.Answered() {
		s.appendMessage(ctx, convID, sub.ID, conversation.UserMessage(res.Answer))
		if _, err := s.executor.ContinueSubtask(ctx, sub); err != nil {
			slog.ErrorContext(ctx, "re-dispatch after clarification failed", "error", err)
			s.notify.Apologize(ctx, convID)
		}
		s.refreshPlan(ctx, sub.ParentID)
		return nil
	}

	msg := conversation.AssistantMessage(res.QuestionForUser)
	s.appendMessage(ctx, convID, sub.ID, msg)
	s.appendMessage(ctx, convID, sub.ParentID, msg)
	s.notify.Reply(ctx, convID, res.QuestionForUser, levelWarning, SourceClarification)
	s.refreshPlan(ctx, sub.ParentID)
	return nil
}

// handleWorkflowCompletion announces a finished plan once. The persisted
// Done status and a completion entry in the parent's execution log guard
// against repeats; callers hold the conversation lock.
func (s *ConductorService) handleWorkflowCompletion(ctx context.Context, convID, parentID string) error {
	parent, err := s.tasks.GetTask(ctx, parentID)
	if err != nil {
		return fmt.Errorf("get plan %s: %w", parentID, err)
	}
	if parent.Status != task.StatusDone || slices.Contains(parent.ExecutionLogs, completionText) {
		return nil
	}
	if _, err := s.tasks.AddExecutionLog(ctx, parentID, completionText); err != nil {
		return fmt.Errorf("mark plan %s complete: %w", parentID, err)
	}

	if s.metrics != nil {
		s.metrics.PlansCompleted.Add(ctx, 1)
	}
	s.appendMessage(ctx, convID, parentID, conversation.AssistantMessage(completionText))
	s.notify.Reply(ctx, convID, completionText, levelSuccess, SourcePlanCompleted)

	if subtasks, err := s.tasks.GetSubtasks(ctx, parentID); err == nil {
		s.events.PlanProgress(ctx, convID, parent, subtasks, planEventCompleted)
	}
	slog.InfoContext(ctx, "plan completion announced", "task_id", parentID)
	return nil
}

// latestParent returns the root task of the conversation's most recent
// plan, or nil when the conversation has none.
func (s *ConductorService) latestParent(ctx context.Context, convID string) (*task.Task, error) {
	states, err := s.states.GetConversationStates(ctx, convID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}

	ids := make([]string, len(states))
	for i := range states {
		ids[i] = states[i].TaskID
	}
	tasks, err := s.tasks.ListTasks(ctx, task.Filter{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("list conversation tasks: %w", err)
	}
	byID := make(map[string]*task.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	// States are oldest first; walk back to the newest root.
	for i := len(states) - 1; i >= 0; i-- {
		if t, ok := byID[states[i].TaskID]; ok && !t.IsSubtask() {
			return t, nil
		}
	}
	return nil, nil
}

// appendMessage adds msg to a task transcript. A task without state is
// logged and skipped.
func (s *ConductorService) appendMessage(ctx context.Context, convID, taskID string, msg conversation.Message) {
	st, err := s.states.AddMessage(ctx, taskID, msg)
	if err != nil {
		slog.ErrorContext(ctx, "append message failed", "task_id", taskID, "error", err)
		return
	}
	if st == nil {
		slog.ErrorContext(ctx, "no conversation state for task", "task_id", taskID)
		return
	}
	s.events.Message(ctx, convID, taskID, string(msg.Role), msg.Content)
}

func (s *ConductorService) refreshPlan(ctx context.Context, parentID string) {
	if err := s.notify.RefreshPlan(ctx, parentID, false); err != nil {
		slog.WarnContext(ctx, "plan card refresh failed", "task_id", parentID, "error", err)
	}
}

// planActive reports whether a root task still owns its conversation. A
// cancelled plan is left in Error and no longer does.
func planActive(parent *task.Task) bool {
	return parent.Status != task.StatusDone && parent.Status != task.StatusError
}

func stateConversation(st *conversation.State) string {
	if st == nil {
		return ""
	}
	return st.ConversationID
}
