package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	cfotel "github.com/heyitsaamir/conductor/internal/adapter/otel"
	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/message"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/agentdirectory"
	"github.com/heyitsaamir/conductor/internal/port/delegate"
	"github.com/heyitsaamir/conductor/internal/port/planner"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
)

// WorkflowResult is what one executor step left behind.
type WorkflowResult string

const (
	ResultInProgress WorkflowResult = "in-progress"
	ResultCompleted  WorkflowResult = "completed"
	ResultFailed     WorkflowResult = "failed"
)

const (
	defaultSuccessText       = "Done!"
	defaultErrorText         = "There was an error"
	defaultClarificationText = "Needs clarification"
)

// ExecutorService walks a parent task's subtasks in order, one step per
// call. Every decision is derived from persisted task status, so a step may
// be retried or re-entered after a restart.
type ExecutorService struct {
	tasks      taskstore.Store
	states     *StateService
	agents     agentdirectory.Directory
	dispatcher delegate.Dispatcher
	drafter    planner.Drafter
	events     *EventPublisher
	metrics    *cfotel.Metrics
}

// NewExecutorService creates an ExecutorService.
func NewExecutorService(
	tasks taskstore.Store,
	states *StateService,
	agents agentdirectory.Directory,
	dispatcher delegate.Dispatcher,
) *ExecutorService {
	return &ExecutorService{
		tasks:      tasks,
		states:     states,
		agents:     agents,
		dispatcher: dispatcher,
	}
}

// SetDrafter enables delegation summaries on a subtask's first message.
func (s *ExecutorService) SetDrafter(d planner.Drafter) { s.drafter = d }

// SetEvents sets the workflow event publisher.
func (s *ExecutorService) SetEvents(p *EventPublisher) { s.events = p }

// SetMetrics sets the metric instruments.
func (s *ExecutorService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// ContinueWorkflow loads the task and takes one step. See ContinueTask.
func (s *ExecutorService) ContinueWorkflow(ctx context.Context, taskID string) (WorkflowResult, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("get task %s: %w", taskID, err)
	}
	return s.ContinueTask(ctx, t)
}

// ContinueTask takes one step for t. A subtask is handed to ContinueSubtask.
// For a root task the first child that is not Done is dispatched if it is
// still Todo; when there is none the root becomes Done. An Error child stops
// the plan.
func (s *ExecutorService) ContinueTask(ctx context.Context, t *task.Task) (WorkflowResult, error) {
	ctx, span := cfotel.StartContinueSpan(ctx, t.ID)
	defer span.End()

	if t.IsSubtask() {
		return s.ContinueSubtask(ctx, t)
	}
	switch t.Status {
	case task.StatusDone:
		return ResultCompleted, nil
	case task.StatusError:
		// Cancelled.
		return ResultFailed, nil
	}

	subtasks, err := s.tasks.GetSubtasks(ctx, t.ID)
	if err != nil {
		return "", fmt.Errorf("get subtasks of %s: %w", t.ID, err)
	}

	next := firstPending(subtasks)
	if next == nil {
		if _, err := s.tasks.UpdateTaskStatus(ctx, t.ID, task.StatusDone); err != nil {
			return "", fmt.Errorf("complete task %s: %w", t.ID, err)
		}
		slog.Info("plan completed", "task_id", t.ID, "subtasks", len(subtasks))
		return ResultCompleted, nil
	}
	switch next.Status {
	case task.StatusError:
		slog.Warn("plan halted on failed subtask", "task_id", t.ID, "subtask_id", next.ID)
		return ResultFailed, nil
	case task.StatusInProgress, task.StatusWaitingForUserResponse:
		// Already dispatched, or parked until the user answers.
		return ResultInProgress, nil
	}
	return s.dispatch(ctx, next, t)
}

// ContinueSubtask drives one subtask. A Done subtask bubbles up to its
// parent; an InProgress one is left alone; an Error one is reported. Todo
// and WaitingForUserResponse subtasks are (re)dispatched to their agent with
// the latest message of their transcript.
func (s *ExecutorService) ContinueSubtask(ctx context.Context, t *task.Task) (WorkflowResult, error) {
	parent, err := s.parentOf(ctx, t)
	if err != nil {
		return "", err
	}

	switch t.Status {
	case task.StatusDone:
		return s.ContinueTask(ctx, parent)
	case task.StatusInProgress:
		return ResultInProgress, nil
	case task.StatusError:
		return ResultFailed, nil
	}
	return s.dispatch(ctx, t, parent)
}

// HandleSubtaskResult records a delegate's outcome on the subtask and
// returns the updated task. A result for a subtask that is already Done or
// Error is rejected with domain.ErrConflict; a failed subtask stays failed.
func (s *ExecutorService) HandleSubtaskResult(ctx context.Context, did message.Did) (*task.Task, error) {
	t, err := s.tasks.GetTask(ctx, did.TaskID)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", did.TaskID, err)
	}
	if !t.IsSubtask() {
		return nil, fmt.Errorf("%w: task %s is not a subtask", domain.ErrValidation, t.ID)
	}
	switch t.Status {
	case task.StatusDone:
		return nil, fmt.Errorf("task %s already done: %w", t.ID, domain.ErrConflict)
	case task.StatusError:
		return nil, fmt.Errorf("task %s already failed: %w", t.ID, domain.ErrConflict)
	}

	var (
		status task.Status
		entry  string
	)
	switch o := did.Outcome.(type) {
	case message.Success:
		status, entry = task.StatusDone, textOr(o.Message, defaultSuccessText)
	case message.Failure:
		status, entry = task.StatusError, textOr(o.Message, defaultErrorText)
	case message.Clarification:
		status, entry = task.StatusWaitingForUserResponse, textOr(o.Message, defaultClarificationText)
	default:
		return nil, fmt.Errorf("%w: unknown outcome %T", domain.ErrValidation, did.Outcome)
	}

	if _, err := s.tasks.UpdateTaskStatus(ctx, t.ID, status); err != nil {
		return nil, fmt.Errorf("update task %s: %w", t.ID, err)
	}
	updated, err := s.tasks.AddExecutionLog(ctx, t.ID, entry)
	if err != nil {
		return nil, fmt.Errorf("log result on %s: %w", t.ID, err)
	}
	if status == task.StatusDone {
		line := fmt.Sprintf("Subtask %s completed with result: %s", t.Title, entry)
		if _, err := s.tasks.AddExecutionLog(ctx, t.ParentID, line); err != nil {
			return nil, fmt.Errorf("log result on parent %s: %w", t.ParentID, err)
		}
	}

	slog.Info("subtask result recorded", "task_id", t.ID, "status", status)
	return updated, nil
}

// dispatch moves sub to InProgress and sends it to its agent. When ctx
// carries an outbox the send is queued there instead.
func (s *ExecutorService) dispatch(ctx context.Context, sub, parent *task.Task) (WorkflowResult, error) {
	if sub.AssignedTo == "" {
		return "", fmt.Errorf("%w: subtask %s has no assignee", domain.ErrValidation, sub.ID)
	}
	ag, err := s.agents.Get(ctx, sub.AssignedTo)
	if err != nil {
		return "", fmt.Errorf("resolve agent %s: %w", sub.AssignedTo, err)
	}

	if len(sub.ExecutionLogs) == 0 {
		if _, err := s.tasks.AddExecutionLog(ctx, parent.ID, fmt.Sprintf("[%s] - %s", ag.DisplayName(), sub.Description)); err != nil {
			return "", fmt.Errorf("log dispatch on parent %s: %w", parent.ID, err)
		}
		if _, err := s.tasks.AddExecutionLog(ctx, sub.ID, sub.Description); err != nil {
			return "", fmt.Errorf("log dispatch on %s: %w", sub.ID, err)
		}
	}

	st, err := s.ensureFirstMessage(ctx, sub, parent)
	if err != nil {
		return "", err
	}
	last, _ := st.LastMessage()

	started, err := s.tasks.UpdateTaskStatus(ctx, sub.ID, task.StatusInProgress)
	if err != nil {
		return "", fmt.Errorf("start task %s: %w", sub.ID, err)
	}

	p := pendingDispatch{
		agent: ag,
		task:  started,
		do: message.Do{
			TaskID: sub.ID,
			Method: message.MethodHandleMessage,
			Params: message.DoParams{Message: last.Content, ConversationID: st.ConversationID},
		},
	}
	if ob := outboxFrom(ctx); ob != nil {
		ob.pending = append(ob.pending, p)
		return ResultInProgress, nil
	}
	if err := s.send(ctx, p); err != nil {
		// Leave the plan fail-stopped rather than InProgress forever.
		_, ferr := s.failDispatch(ctx, p, err)
		return "", fmt.Errorf("dispatch %s to %s: %w", sub.ID, ag.ID, errors.Join(err, ferr))
	}
	return ResultInProgress, nil
}

// send delivers a prepared do message to its agent.
func (s *ExecutorService) send(ctx context.Context, p pendingDispatch) error {
	dctx, span := cfotel.StartDispatchSpan(ctx, p.task.ID, p.agent.ID)
	err := s.dispatcher.Dispatch(dctx, p.agent, p.do)
	span.End()
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SubtasksDispatched.Add(ctx, 1)
	}
	s.events.TaskStatus(ctx, p.conversationID(), p.task, "dispatched")
	slog.Info("subtask dispatched", "task_id", p.task.ID, "agent_id", p.agent.ID, "conversation_id", p.conversationID())
	return nil
}

// failDispatch moves a subtask whose do could not be delivered to Error. A
// subtask that is no longer InProgress already has its result and is left
// alone; the returned task is nil then.
func (s *ExecutorService) failDispatch(ctx context.Context, p pendingDispatch, cause error) (*task.Task, error) {
	t, err := s.tasks.GetTask(ctx, p.task.ID)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", p.task.ID, err)
	}
	if t.Status != task.StatusInProgress {
		slog.Warn("dispatch failed after the agent reported back", "task_id", t.ID, "status", t.Status, "error", cause)
		return nil, nil
	}

	failed, err := s.tasks.UpdateTaskStatus(ctx, t.ID, task.StatusError)
	if err != nil {
		return nil, fmt.Errorf("fail task %s: %w", t.ID, err)
	}
	if logged, err := s.tasks.AddExecutionLog(ctx, t.ID, "dispatch failed: "+cause.Error()); err != nil {
		slog.Warn("log dispatch failure failed", "task_id", t.ID, "error", err)
	} else {
		failed = logged
	}
	s.events.TaskStatus(ctx, p.conversationID(), failed, "dispatch failed")
	return failed, nil
}

// ensureFirstMessage makes sure the subtask transcript has something to
// send: the description, plus a delegation summary when a drafter is set.
func (s *ExecutorService) ensureFirstMessage(ctx context.Context, sub, parent *task.Task) (*conversation.State, error) {
	st, err := s.states.GetStateByTaskID(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	parentState, err := s.states.GetStateByTaskID(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	if st == nil {
		if parentState == nil {
			return nil, fmt.Errorf("no conversation state for %s or its parent: %w", sub.ID, domain.ErrNotFound)
		}
		if st, err = s.states.CreateInitialState(ctx, sub.ID, parentState.ConversationID, nil); err != nil {
			return nil, err
		}
	}
	if len(st.Messages) > 0 {
		return st, nil
	}

	content := sub.Description
	if content == "" {
		content = sub.Title
	}
	if s.drafter != nil && parentState != nil {
		summary, err := s.drafter.DraftDelegation(ctx, sub, parentState.Messages)
		if err != nil {
			slog.Warn("delegation summary failed", "task_id", sub.ID, "error", err)
		} else if summary = strings.TrimSpace(summary); summary != "" {
			content += "\n\n" + summary
		}
	}

	updated, err := s.states.AddMessage(ctx, sub.ID, conversation.UserMessage(content))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// pendingDispatch is a subtask already moved to InProgress whose do message
// has not been sent.
type pendingDispatch struct {
	agent agent.Agent
	task  *task.Task
	do    message.Do
}

func (p pendingDispatch) conversationID() string { return p.do.Params.ConversationID }

type outboxKey struct{}

// outbox collects the dispatches prepared under a conversation lock. The
// holder sends them once the lock is released.
type outbox struct {
	pending []pendingDispatch
}

func withOutbox(ctx context.Context) (context.Context, *outbox) {
	ob := &outbox{}
	return context.WithValue(ctx, outboxKey{}, ob), ob
}

func outboxFrom(ctx context.Context) *outbox {
	ob, _ := ctx.Value(outboxKey{}).(*outbox)
	return ob
}

func (s *ExecutorService) parentOf(ctx context.Context, t *task.Task) (*task.Task, error) {
	parent, err := s.tasks.GetTask(ctx, t.ParentID)
	if err != nil {
		return nil, fmt.Errorf("get parent %s of %s: %w", t.ParentID, t.ID, err)
	}
	if parent.IsSubtask() {
		return nil, fmt.Errorf("task %s: %w", t.ID, domain.ErrNestingDepth)
	}
	return parent, nil
}

func firstPending(subtasks []task.Task) *task.Task {
	for i := range subtasks {
		if subtasks[i].Status != task.StatusDone {
			return &subtasks[i]
		}
	}
	return nil
}

func textOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
