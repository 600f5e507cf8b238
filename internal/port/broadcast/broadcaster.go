// Package broadcast defines the port for pushing real-time workflow events to connected clients.
package broadcast

import "context"

// Event type constants shared by broadcasters and their clients.
const (
	EventTaskStatus   = "task.status"
	EventPlanProgress = "plan.progress"
	EventPlanComplete = "plan.completed"
	EventMessage      = "conversation.message"
)

// Broadcaster sends real-time events to connected clients. conversationID
// scopes delivery; clients subscribed to other conversations do not see it.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, conversationID, eventType string, payload any)
}
