package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
)

// Expirer fails a stale subtask. ConductorService implements it.
type Expirer interface {
	ExpireSubtask(ctx context.Context, taskID string, deadline time.Time) (bool, error)
}

// Watchdog fails subtasks whose agent never reported back. A subtask that
// has been InProgress for longer than the SLA is treated as a 408 failure.
type Watchdog struct {
	tasks    taskstore.Store
	expirer  Expirer
	interval time.Duration
	sla      time.Duration
	now      func() time.Time

	checks   atomic.Int64
	timeouts atomic.Int64
}

// NewWatchdog creates a Watchdog that checks every interval.
func NewWatchdog(tasks taskstore.Store, expirer Expirer, interval, sla time.Duration) *Watchdog {
	return &Watchdog{
		tasks:    tasks,
		expirer:  expirer,
		interval: interval,
		sla:      sla,
		now:      time.Now,
	}
}

// Run checks on every tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	slog.Info("watchdog started", "interval", w.interval, "sla", w.sla)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watchdog stopped", "checks", w.checks.Load(), "timeouts", w.timeouts.Load())
			return nil
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				slog.Warn("watchdog check failed", "error", err)
			}
		}
	}
}

// Check expires every stale subtask once and returns how many it expired.
// A failure on one subtask does not stop the others.
func (w *Watchdog) Check(ctx context.Context) (int, error) {
	w.checks.Add(1)

	running, err := w.tasks.ListTasks(ctx, task.Filter{Status: task.StatusInProgress})
	if err != nil {
		return 0, fmt.Errorf("list in-progress tasks: %w", err)
	}

	deadline := w.now().Add(-w.sla)
	expired := 0
	for i := range running {
		t := &running[i]
		if !t.IsSubtask() || !t.UpdatedAt.Before(deadline) {
			continue
		}
		ok, err := w.expirer.ExpireSubtask(ctx, t.ID, deadline)
		if err != nil {
			slog.Error("expire subtask failed", "task_id", t.ID, "error", err)
			continue
		}
		if ok {
			expired++
			slog.Warn("subtask timed out", "task_id", t.ID, "agent_id", t.AssignedTo, "waited", w.now().Sub(t.UpdatedAt))
		}
	}
	w.timeouts.Add(int64(expired))
	return expired, nil
}

// Stats returns how many checks ran and how many subtasks were expired.
func (w *Watchdog) Stats() (checks, timeouts int64) {
	return w.checks.Load(), w.timeouts.Load()
}
