package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/broadcast"
	"github.com/heyitsaamir/conductor/internal/port/messagequeue"
)

// EventPublisher fans workflow events out to NATS and the WebSocket hub.
// Either sink may be nil. A nil *EventPublisher is valid and does nothing.
type EventPublisher struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
	now   func() time.Time
}

// NewEventPublisher creates a publisher over the given sinks.
func NewEventPublisher(queue messagequeue.Queue, hub broadcast.Broadcaster) *EventPublisher {
	return &EventPublisher{queue: queue, hub: hub, now: time.Now}
}

// TaskStatus reports a subtask transition.
func (p *EventPublisher) TaskStatus(ctx context.Context, conversationID string, t *task.Task, detail string) {
	if p == nil || t == nil {
		return
	}
	payload := messagequeue.TaskEventPayload{
		TaskID:         t.ID,
		ParentID:       t.ParentID,
		ConversationID: conversationID,
		AgentID:        t.AssignedTo,
		Status:         string(t.Status),
		Detail:         detail,
		At:             p.now().UTC(),
	}
	p.publish(ctx, messagequeue.SubjectTaskEvent, payload)
	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, conversationID, broadcast.EventTaskStatus, payload)
	}
}

// PlanProgress reports plan creation, progress or completion.
func (p *EventPublisher) PlanProgress(ctx context.Context, conversationID string, parent *task.Task, subtasks []task.Task, kind string) {
	if p == nil || parent == nil {
		return
	}
	payload := messagequeue.PlanEventPayload{
		TaskID:         parent.ID,
		ConversationID: conversationID,
		Title:          parent.Title,
		Kind:           kind,
		Completed:      countDone(subtasks),
		Total:          len(subtasks),
		At:             p.now().UTC(),
	}
	if kind != planEventProgress {
		p.publish(ctx, messagequeue.SubjectPlanEvent, payload)
	}
	if p.hub != nil {
		eventType := broadcast.EventPlanProgress
		if kind == planEventCompleted {
			eventType = broadcast.EventPlanComplete
		}
		p.hub.BroadcastEvent(ctx, conversationID, eventType, payload)
	}
}

// Timeout reports a watchdog expiry.
func (p *EventPublisher) Timeout(ctx context.Context, t *task.Task, waited time.Duration) {
	if p == nil || t == nil {
		return
	}
	p.publish(ctx, messagequeue.SubjectTimeoutEvent, messagequeue.TimeoutEventPayload{
		TaskID:   t.ID,
		ParentID: t.ParentID,
		AgentID:  t.AssignedTo,
		Waited:   waited,
		At:       p.now().UTC(),
	})
}

// Message mirrors a transcript append to WebSocket clients.
func (p *EventPublisher) Message(ctx context.Context, conversationID, taskID string, role, content string) {
	if p == nil || p.hub == nil {
		return
	}
	p.hub.BroadcastEvent(ctx, conversationID, broadcast.EventMessage, map[string]string{
		"task_id": taskID,
		"role":    role,
		"content": content,
	})
}

func (p *EventPublisher) publish(ctx context.Context, subject string, payload any) {
	if p.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish event failed", "subject", subject, "error", err)
	}
}

const (
	planEventCreated   = "created"
	planEventProgress  = "progress"
	planEventCompleted = "completed"
)

func countDone(subtasks []task.Task) int {
	n := 0
	for i := range subtasks {
		if subtasks[i].Status == task.StatusDone {
			n++
		}
	}
	return n
}
