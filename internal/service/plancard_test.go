package service

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyitsaamir/conductor/internal/domain/task"
)

func cardFixture() (*task.Task, []task.Task) {
	parent := &task.Task{ID: "p1", Title: "Qualify leads", Description: "Find leads", Status: task.StatusInProgress, SubTaskIDs: []string{"s1", "s2"}}
	subs := []task.Task{
		{ID: "s1", ParentID: "p1", Title: "Research", Status: task.StatusDone, AssignedTo: "lead-qualification"},
		{ID: "s2", ParentID: "p1", Title: "Outreach", Status: task.StatusWaitingForUserResponse},
	}
	return parent, subs
}

func TestRenderPlanCard_Progress(t *testing.T) {
	parent, subs := cardFixture()

	raw, err := RenderPlanCard(parent, subs, false).JSON()
	require.NoError(t, err)
	s := string(raw)

	assert.Contains(t, s, `"Plan Progress"`)
	assert.Contains(t, s, "_1 of 2 tasks completed_")
	assert.Contains(t, s, "**Assigned to:** _@Conductor_")
	assert.Contains(t, s, "**Assigned to:** _@lead-qualification_")
	assert.Contains(t, s, "**Assigned to:** _@Unassigned_")
	assert.Contains(t, s, `"ChatBubblesQuestion"`)
	assert.NotContains(t, s, "Action.Execute")
}

func TestRenderPlanCard_Approval(t *testing.T) {
	parent, subs := cardFixture()
	card := RenderPlanCard(parent, subs, true)

	require.Len(t, card.Attachments, 1)
	assert.Equal(t, "application/vnd.microsoft.card.adaptive", card.Attachments[0].ContentType)
	assert.Equal(t, "1.5", card.Attachments[0].Content.Version)

	raw, err := card.JSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "message", decoded["type"])

	s := string(raw)
	assert.Contains(t, s, `"verb":"approve"`)
	assert.Contains(t, s, `"verb":"deny"`)
	assert.Equal(t, 2, strings.Count(s, `"taskId":"p1"`))
}

func TestIsExpanded(t *testing.T) {
	tests := []struct {
		name string
		t    task.Task
		want bool
	}{
		{"open root", task.Task{Status: task.StatusTodo}, true},
		{"done root", task.Task{Status: task.StatusDone}, false},
		{"todo subtask", task.Task{ParentID: "p", Status: task.StatusTodo}, false},
		{"running subtask", task.Task{ParentID: "p", Status: task.StatusInProgress}, true},
		{"failed subtask", task.Task{ParentID: "p", Status: task.StatusError}, true},
		{"done subtask", task.Task{ParentID: "p", Status: task.StatusDone}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isExpanded(&tt.t))
		})
	}
}
