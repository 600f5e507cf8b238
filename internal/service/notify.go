package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/port/notifier"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
)

// Notification sources.
const (
	SourceSubtaskCompleted  = "subtask.completed"
	SourceSubtaskFailed     = "subtask.failed"
	SourceClarification     = "needs_clarification"
	SourcePlanCard          = "plan.card"
	SourcePlanCompleted     = "plan.completed"
	SourceConductor         = "conductor"
	SourceWatchdog          = "watchdog"
	levelInfo               = "info"
	levelSuccess            = "success"
	levelWarning            = "warning"
	levelError              = "error"
	collaboratorFailureText = "Sorry, I couldn't process your request. Please rephrase and try again."
)

// ConversationNotifier surfaces workflow output to the originating chat
// conversation. The primary notifier answers the conversation; mirrors get
// a copy of every text reply. Delivery failures are logged, never returned
// to the workflow.
type ConversationNotifier struct {
	tasks   taskstore.Store
	states  *StateService
	primary notifier.Notifier
	mirrors []notifier.Notifier
	events  *EventPublisher
}

// NewConversationNotifier creates a ConversationNotifier. primary may be nil
// when no chat bridge is configured.
func NewConversationNotifier(tasks taskstore.Store, states *StateService, primary notifier.Notifier, mirrors ...notifier.Notifier) *ConversationNotifier {
	return &ConversationNotifier{tasks: tasks, states: states, primary: primary, mirrors: mirrors}
}

// SetEvents sets the workflow event publisher.
func (n *ConversationNotifier) SetEvents(p *EventPublisher) { n.events = p }

// Reply posts a text message to the conversation.
func (n *ConversationNotifier) Reply(ctx context.Context, conversationID, text, level, source string) {
	msg := notifier.Notification{
		ConversationID: conversationID,
		Message:        text,
		Level:          level,
		Source:         source,
	}
	if n.primary != nil {
		n.send(ctx, n.primary, msg)
	}
	for _, m := range n.mirrors {
		n.send(ctx, m, msg)
	}
}

// Apologize tells the conversation that a collaborator failed.
func (n *ConversationNotifier) Apologize(ctx context.Context, conversationID string) {
	n.Reply(ctx, conversationID, collaboratorFailureText, levelError, SourceConductor)
}

// RefreshPlan renders the plan card of parentID and posts it, updating the
// previous card in place when the notifier supports it.
func (n *ConversationNotifier) RefreshPlan(ctx context.Context, parentID string, approval bool) error {
	parent, err := n.tasks.GetTask(ctx, parentID)
	if err != nil {
		return fmt.Errorf("get plan %s: %w", parentID, err)
	}
	subtasks, err := n.tasks.GetSubtasks(ctx, parentID)
	if err != nil {
		return fmt.Errorf("get subtasks of %s: %w", parentID, err)
	}
	st, err := n.states.GetStateByTaskID(ctx, parentID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("state for plan %s: %w", parentID, domain.ErrNotFound)
	}

	n.events.PlanProgress(ctx, st.ConversationID, parent, subtasks, planEventProgress)
	if n.primary == nil {
		return nil
	}

	card, err := RenderPlanCard(parent, subtasks, approval).JSON()
	if err != nil {
		return fmt.Errorf("render plan card: %w", err)
	}
	msg := notifier.Notification{
		ConversationID: st.ConversationID,
		Title:          parent.Title,
		Level:          levelInfo,
		Source:         SourcePlanCard,
		Card:           card,
	}
	if n.primary.Capabilities().UpdateInPlace {
		msg.ActivityID = st.PlanActivityID
	}

	receipt, err := n.primary.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send plan card via %s: %w", n.primary.Name(), err)
	}
	if receipt.ActivityID != "" && receipt.ActivityID != st.PlanActivityID {
		if err := n.states.SetPlanActivityID(ctx, parentID, receipt.ActivityID); err != nil {
			return err
		}
	}
	return nil
}

func (n *ConversationNotifier) send(ctx context.Context, to notifier.Notifier, msg notifier.Notification) {
	if _, err := to.Send(ctx, msg); err != nil {
		slog.Warn("notification send failed",
			"provider", to.Name(),
			"conversation_id", msg.ConversationID,
			"source", msg.Source,
			"error", err,
		)
		return
	}
	slog.Debug("notification sent", "provider", to.Name(), "source", msg.Source)
}
