package messagequeue

import "time"

// TaskEventPayload is the schema for conductor.events.task messages.
type TaskEventPayload struct {
	TaskID         string    `json:"task_id"`
	ParentID       string    `json:"parent_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Status         string    `json:"status"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}

// PlanEventPayload is the schema for conductor.events.plan messages.
type PlanEventPayload struct {
	TaskID         string    `json:"task_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Title          string    `json:"title"`
	Kind           string    `json:"kind"` // "created" | "completed"
	Completed      int       `json:"completed"`
	Total          int       `json:"total"`
	At             time.Time `json:"at"`
}

// TimeoutEventPayload is the schema for conductor.events.timeout messages.
type TimeoutEventPayload struct {
	TaskID   string        `json:"task_id"`
	ParentID string        `json:"parent_id,omitempty"`
	AgentID  string        `json:"agent_id,omitempty"`
	Waited   time.Duration `json:"waited"`
	At       time.Time     `json:"at"`
}
