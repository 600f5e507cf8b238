// Package notifier defines the port for surfacing workflow output to humans.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	ConversationID string          `json:"conversationId"`
	Title          string          `json:"title,omitempty"`
	Message        string          `json:"message"`
	Level          string          `json:"level"`  // "info", "success", "warning", "error"
	Source         string          `json:"source"` // e.g. "subtask.completed", "plan.created"
	Card           json.RawMessage `json:"card,omitempty"`
	// ActivityID, when set, asks the notifier to update a previously sent
	// card in place instead of posting a new one.
	ActivityID string `json:"activityId,omitempty"`
}

// Receipt identifies what the notifier delivered.
type Receipt struct {
	ActivityID string `json:"activityId,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Threads        bool `json:"threads"`
	UpdateInPlace  bool `json:"update_in_place"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "chatbridge", "slack").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, n Notification) (Receipt, error)
}
