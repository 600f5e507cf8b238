// Package conversation defines the per-task conversation state the conductor reasons over.
package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage is a shorthand constructor.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage is a shorthand constructor.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// State is the conversation record for one task. A task may accumulate
// several states over time; the most recently created one is current.
type State struct {
	StateID        string    `json:"stateId"`
	ConversationID string    `json:"conversationId"`
	TaskID         string    `json:"taskId"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt"`
	PlanActivityID string    `json:"planActivityId,omitempty"`
}

// NewStateID derives a state id from the task id and creation time.
func NewStateID(taskID string, createdAt time.Time) string {
	return fmt.Sprintf("%s:%d", taskID, createdAt.UnixNano())
}

// New builds a fresh state. The messages slice is copied.
func New(taskID, conversationID string, messages []Message, now time.Time) State {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return State{
		StateID:        NewStateID(taskID, now),
		ConversationID: conversationID,
		TaskID:         taskID,
		Messages:       msgs,
		CreatedAt:      now,
	}
}

// LastMessage returns the most recent transcript entry.
func (s *State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Tail returns up to n of the most recent messages.
func (s *State) Tail(n int) []Message {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	start := max(len(s.Messages)-n, 0)
	out := make([]Message, len(s.Messages)-start)
	copy(out, s.Messages[start:])
	return out
}

// Clone returns a deep copy, so cached or stored values are never aliased.
func (s *State) Clone() State {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return c
}

// TaskIDFromStateID recovers the task id from an id built by NewStateID.
func TaskIDFromStateID(stateID string) string {
	i := strings.LastIndexByte(stateID, ':')
	if i <= 0 {
		return ""
	}
	return stateID[:i]
}
