package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/heyitsaamir/conductor/internal/adapter/memory"
	"github.com/heyitsaamir/conductor/internal/adapter/storetest"
	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/statestore"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
)

func TestTaskStore(t *testing.T) {
	storetest.RunTaskStore(t, func(*testing.T) taskstore.Store { return memory.NewTaskStore() })
}

func TestStateStore(t *testing.T) {
	storetest.RunStateStore(t, func(*testing.T) statestore.Store { return memory.NewStateStore() })
}

func TestTaskStoreUnknownParent(t *testing.T) {
	s := memory.NewTaskStore()
	_, err := s.CreateTask(context.Background(), task.CreateRequest{Title: "x", CreatedBy: "u", ParentID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskStoreReturnsCopies(t *testing.T) {
	s := memory.NewTaskStore()
	ctx := context.Background()
	created, _ := s.CreateTask(ctx, task.CreateRequest{Title: "x", CreatedBy: "u"})
	created.ExecutionLogs = append(created.ExecutionLogs, "tampered")

	got, _ := s.GetTask(ctx, created.ID)
	if len(got.ExecutionLogs) != 0 {
		t.Fatalf("store state leaked through returned pointer: %v", got.ExecutionLogs)
	}
}

func TestTaskStoreConcurrentSubtasks(t *testing.T) {
	s := memory.NewTaskStore()
	ctx := context.Background()
	parent, _ := s.CreateTask(ctx, task.CreateRequest{Title: "root", CreatedBy: "u"})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CreateTask(ctx, task.CreateRequest{Title: "child", CreatedBy: "u", ParentID: parent.ID})
		}()
	}
	wg.Wait()

	got, _ := s.GetTask(ctx, parent.ID)
	if len(got.SubTaskIDs) != 50 {
		t.Fatalf("expected 50 subtasks, got %d", len(got.SubTaskIDs))
	}
}
