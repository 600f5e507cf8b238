// Package storetest holds behavioural suites shared by every task and state
// store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/statestore"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
)

// RunTaskStore exercises a taskstore.Store. newStore must return an empty store.
func RunTaskStore(t *testing.T, newStore func(t *testing.T) taskstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateTask(ctx, task.CreateRequest{Title: "Build site", Description: "landing page", CreatedBy: "user-1"})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if created.ID == "" || created.Status != task.StatusTodo {
			t.Fatalf("unexpected task %+v", created)
		}
		got, err := s.GetTask(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.Title != "Build site" || got.Description != "landing page" || got.CreatedBy != "user-1" {
			t.Fatalf("unexpected task %+v", got)
		}
		if len(got.SubTaskIDs) != 0 || len(got.ExecutionLogs) != 0 {
			t.Fatalf("expected empty collections, got %+v", got)
		}
	})

	t.Run("missing task", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetTask(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.UpdateTaskStatus(ctx, "00000000-0000-0000-0000-000000000000", task.StatusDone); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid create", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.CreateTask(ctx, task.CreateRequest{CreatedBy: "u"}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("subtasks keep creation order", func(t *testing.T) {
		s := newStore(t)
		parent, err := s.CreateTask(ctx, task.CreateRequest{Title: "root", CreatedBy: "u"})
		if err != nil {
			t.Fatal(err)
		}
		titles := []string{"one", "two", "three"}
		for _, title := range titles {
			if _, err := s.CreateTask(ctx, task.CreateRequest{Title: title, CreatedBy: "conductor", AssignedTo: "agent", ParentID: parent.ID}); err != nil {
				t.Fatalf("create %s: %v", title, err)
			}
		}
		got, err := s.GetTask(ctx, parent.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.SubTaskIDs) != 3 {
			t.Fatalf("expected 3 subtask ids, got %v", got.SubTaskIDs)
		}
		subs, err := s.GetSubtasks(ctx, parent.ID)
		if err != nil {
			t.Fatal(err)
		}
		for i, sub := range subs {
			if sub.Title != titles[i] || sub.ParentID != parent.ID || sub.ID != got.SubTaskIDs[i] {
				t.Fatalf("subtask %d out of order: %+v", i, sub)
			}
		}
	})

	t.Run("status update is idempotent", func(t *testing.T) {
		s := newStore(t)
		created, _ := s.CreateTask(ctx, task.CreateRequest{Title: "t", CreatedBy: "u"})
		for range 2 {
			got, err := s.UpdateTaskStatus(ctx, created.ID, task.StatusInProgress)
			if err != nil {
				t.Fatalf("UpdateTaskStatus: %v", err)
			}
			if got.Status != task.StatusInProgress {
				t.Fatalf("expected InProgress, got %s", got.Status)
			}
		}
	})

	t.Run("execution logs append", func(t *testing.T) {
		s := newStore(t)
		created, _ := s.CreateTask(ctx, task.CreateRequest{Title: "t", CreatedBy: "u"})
		if _, err := s.AddExecutionLog(ctx, created.ID, "first"); err != nil {
			t.Fatal(err)
		}
		got, err := s.AddExecutionLog(ctx, created.ID, "second")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.ExecutionLogs) != 2 || got.ExecutionLogs[0] != "first" || got.ExecutionLogs[1] != "second" {
			t.Fatalf("unexpected logs %v", got.ExecutionLogs)
		}
	})

	t.Run("list filters", func(t *testing.T) {
		s := newStore(t)
		a, _ := s.CreateTask(ctx, task.CreateRequest{Title: "a", CreatedBy: "u", AssignedTo: "x"})
		b, _ := s.CreateTask(ctx, task.CreateRequest{Title: "b", CreatedBy: "u", AssignedTo: "y"})
		if _, err := s.UpdateTaskStatus(ctx, b.ID, task.StatusInProgress); err != nil {
			t.Fatal(err)
		}

		inProgress, err := s.ListTasks(ctx, task.Filter{Status: task.StatusInProgress})
		if err != nil {
			t.Fatal(err)
		}
		if len(inProgress) != 1 || inProgress[0].ID != b.ID {
			t.Fatalf("status filter: %+v", inProgress)
		}
		assigned, _ := s.ListTasks(ctx, task.Filter{AssignedTo: "x"})
		if len(assigned) != 1 || assigned[0].ID != a.ID {
			t.Fatalf("assignee filter: %+v", assigned)
		}
		byID, _ := s.ListTasks(ctx, task.Filter{IDs: []string{a.ID, b.ID}})
		if len(byID) != 2 {
			t.Fatalf("id filter: %+v", byID)
		}
	})
}

// RunStateStore exercises a statestore.Store. newStore must return an empty store.
func RunStateStore(t *testing.T, newStore func(t *testing.T) statestore.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("insert and latest", func(t *testing.T) {
		s := newStore(t)
		older := conversation.New("task-1", "conv-1", []conversation.Message{conversation.UserMessage("hi")}, base)
		newer := conversation.New("task-1", "conv-1", []conversation.Message{conversation.UserMessage("again")}, base.Add(time.Second))
		if err := s.Insert(ctx, &older); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := s.Insert(ctx, &newer); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := s.Latest(ctx, "task-1")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got.StateID != newer.StateID || got.Messages[0].Content != "again" {
			t.Fatalf("expected newest state, got %+v", got)
		}
	})

	t.Run("latest missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Latest(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("append message", func(t *testing.T) {
		s := newStore(t)
		st := conversation.New("task-2", "conv-2", []conversation.Message{conversation.UserMessage("build it")}, base)
		if err := s.Insert(ctx, &st); err != nil {
			t.Fatal(err)
		}
		got, err := s.AppendMessage(ctx, st.StateID, conversation.AssistantMessage("on it"))
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if len(got.Messages) != 2 || got.Messages[1].Role != conversation.RoleAssistant {
			t.Fatalf("unexpected messages %+v", got.Messages)
		}
		latest, _ := s.Latest(ctx, "task-2")
		if len(latest.Messages) != 2 {
			t.Fatalf("append not persisted: %+v", latest.Messages)
		}
		if _, err := s.AppendMessage(ctx, "missing", conversation.UserMessage("x")); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("plan activity id", func(t *testing.T) {
		s := newStore(t)
		st := conversation.New("task-3", "conv-3", nil, base)
		if err := s.Insert(ctx, &st); err != nil {
			t.Fatal(err)
		}
		if err := s.SetPlanActivityID(ctx, st.StateID, "activity-9"); err != nil {
			t.Fatalf("SetPlanActivityID: %v", err)
		}
		got, _ := s.Latest(ctx, "task-3")
		if got.PlanActivityID != "activity-9" {
			t.Fatalf("expected activity-9, got %q", got.PlanActivityID)
		}
		if err := s.SetPlanActivityID(ctx, "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list by conversation oldest first", func(t *testing.T) {
		s := newStore(t)
		second := conversation.New("task-b", "conv-4", nil, base.Add(time.Minute))
		first := conversation.New("task-a", "conv-4", nil, base)
		other := conversation.New("task-c", "conv-5", nil, base)
		for _, st := range []*conversation.State{&second, &first, &other} {
			if err := s.Insert(ctx, st); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.ListByConversation(ctx, "conv-4")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].TaskID != "task-a" || got[1].TaskID != "task-b" {
			t.Fatalf("unexpected order %+v", got)
		}
	})
}
