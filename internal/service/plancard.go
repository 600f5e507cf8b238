package service

import (
	"encoding/json"
	"fmt"

	"github.com/heyitsaamir/conductor/internal/domain/task"
)

// Adaptive Card action verbs posted back by the chat bridge.
const (
	CardVerbApprove = "approve"
	CardVerbDeny    = "deny"
)

// element is one Adaptive Card node.
type element = map[string]any

// PlanCard is the envelope the chat bridge expects for rich messages.
type PlanCard struct {
	Type        string           `json:"type"`
	Attachments []cardAttachment `json:"attachments"`
}

type cardAttachment struct {
	ContentType string      `json:"contentType"`
	Content     cardContent `json:"content"`
}

type cardContent struct {
	Type    string    `json:"type"`
	Schema  string    `json:"$schema"`
	Version string    `json:"version"`
	Body    []element `json:"body"`
}

// RenderPlanCard builds the progress card for a parent task and its
// subtasks. With approval set, the card is titled "Plan" and carries
// Approve and Deny actions.
func RenderPlanCard(parent *task.Task, subtasks []task.Task, approval bool) PlanCard {
	title := "Plan Progress"
	if approval {
		title = "Plan"
	}

	body := []element{
		{"type": "TextBlock", "text": title, "wrap": true, "weight": "Bolder", "size": "Large"},
		{
			"type":      "ColumnSet",
			"spacing":   "None",
			"minHeight": "5px",
			"columns": []element{
				{"type": "Column", "width": "auto", "verticalContentAlignment": "Center", "items": []element{statusIcon(parent.Status)}},
				{"type": "Column", "width": "auto", "verticalContentAlignment": "Center", "items": []element{{
					"type": "TextBlock", "text": fmt.Sprintf("_%d of %d tasks completed_", countDone(subtasks), len(subtasks)),
					"wrap": true, "size": "Small", "spacing": "None", "isSubtle": true, "horizontalAlignment": "Left",
				}}},
			},
		},
		taskContainer(parent, subtasks),
	}

	if approval {
		data := map[string]string{"taskId": parent.ID}
		body = append(body,
			element{"type": "TextBlock", "text": "Does this plan look good?", "wrap": true, "separator": true},
			element{"type": "ActionSet", "actions": []element{
				{"type": "Action.Execute", "title": "Approve", "verb": CardVerbApprove, "style": "positive", "data": data},
				{"type": "Action.Execute", "title": "Deny", "verb": CardVerbDeny, "style": "destructive", "data": data},
			}},
		)
	}

	return PlanCard{
		Type: "message",
		Attachments: []cardAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: cardContent{
				Type:    "AdaptiveCard",
				Schema:  "https://adaptivecards.io/schemas/adaptive-card.json",
				Version: "1.5",
				Body:    body,
			},
		}},
	}
}

// JSON renders the card for a notifier payload.
func (c PlanCard) JSON() (json.RawMessage, error) {
	return json.Marshal(c)
}

func taskContainer(t *task.Task, children []task.Task) element {
	id := "task_" + t.ID
	expanded := isExpanded(t)
	toggle := element{
		"type":           "Action.ToggleVisibility",
		"targetElements": []string{id + "_details", id + "_chevronUp", id + "_chevronDown"},
	}

	assignee := "_@Conductor_"
	if t.IsSubtask() {
		name := t.AssignedTo
		if name == "" {
			name = "Unassigned"
		}
		assignee = "_@" + name + "_"
	}

	details := []element{
		{"type": "TextBlock", "text": t.Description, "wrap": true, "isSubtle": true, "weight": "Lighter", "size": "Small", "spacing": "None"},
		{"type": "TextBlock", "text": "**Status:** " + string(t.Status), "wrap": true, "isSubtle": true, "size": "Small", "spacing": "ExtraSmall"},
	}
	for i := range children {
		details = append(details, taskContainer(&children[i], nil))
	}

	return element{
		"type":      "Container",
		"separator": true,
		"spacing":   "ExtraLarge",
		"items": []element{
			{
				"type":    "ColumnSet",
				"spacing": "ExtraLarge",
				"columns": []element{
					{"type": "Column", "width": "auto", "verticalContentAlignment": "Center", "items": []element{statusIcon(t.Status)}},
					{"type": "Column", "width": "stretch", "items": []element{{
						"type": "ColumnSet",
						"columns": []element{
							{"type": "Column", "width": "stretch", "separator": true, "items": []element{
								{"type": "TextBlock", "text": t.Title, "wrap": true, "style": "default"},
								{"type": "TextBlock", "text": "**Assigned to:** " + assignee, "wrap": true, "isSubtle": true, "size": "Small", "spacing": "ExtraSmall"},
							}},
							{"type": "Column", "width": "auto", "items": []element{
								{"type": "Icon", "name": "ChevronDown", "size": "xSmall", "id": id + "_chevronDown", "isVisible": !expanded, "selectAction": toggle},
								{"type": "Icon", "name": "ChevronUp", "size": "xSmall", "id": id + "_chevronUp", "isVisible": expanded, "selectAction": toggle},
							}},
						},
					}}},
				},
			},
			{
				"type":      "ColumnSet",
				"id":        id + "_details",
				"isVisible": expanded,
				"columns": []element{
					{"type": "Column", "width": "auto", "items": []element{{"type": "Icon", "size": "xSmall", "name": "Blank"}}},
					{"type": "Column", "width": "stretch", "items": []element{{"type": "Container", "spacing": "Small", "items": details}}},
				},
			},
		},
	}
}

// isExpanded shows details for unfinished roots and for subtasks that are
// running or need attention.
func isExpanded(t *task.Task) bool {
	if !t.IsSubtask() && t.Status != task.StatusDone {
		return true
	}
	switch t.Status {
	case task.StatusInProgress, task.StatusWaitingForUserResponse, task.StatusError:
		return true
	}
	return false
}

func statusIcon(s task.Status) element {
	icon := element{"type": "Icon", "size": "xSmall"}
	switch s {
	case task.StatusDone:
		icon["name"], icon["color"], icon["style"] = "CheckmarkCircle", "Good", "Filled"
	case task.StatusInProgress:
		icon["name"] = "Clock"
	case task.StatusError:
		icon["name"], icon["color"] = "ErrorBadge", "Attention"
	case task.StatusWaitingForUserResponse:
		icon["name"], icon["color"] = "ChatBubblesQuestion", "Warning"
	default:
		icon["name"] = "Circle"
	}
	return icon
}
