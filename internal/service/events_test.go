package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/broadcast"
	"github.com/heyitsaamir/conductor/internal/port/messagequeue"
)

type published struct {
	subject string
	data    []byte
}

type recordingQueue struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (q *recordingQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, published{subject: subject, data: data})
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *recordingQueue) Drain() error      { return nil }
func (q *recordingQueue) Close() error      { return nil }
func (q *recordingQueue) IsConnected() bool { return true }
func (q *recordingQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.msgs))
	for i, m := range q.msgs {
		out[i] = m.subject
	}
	return out
}

type broadcastEvent struct {
	conversationID string
	eventType      string
}

type recordingHub struct {
	events []broadcastEvent
}

func (h *recordingHub) BroadcastEvent(_ context.Context, conversationID, eventType string, _ any) {
	h.events = append(h.events, broadcastEvent{conversationID, eventType})
}

var _ broadcast.Broadcaster = (*recordingHub)(nil)

func newTestPublisher() (*EventPublisher, *recordingQueue, *recordingHub) {
	q, h := &recordingQueue{}, &recordingHub{}
	p := NewEventPublisher(q, h)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p, q, h
}

func TestEventPublisher_TaskStatus(t *testing.T) {
	p, q, h := newTestPublisher()
	sub := &task.Task{ID: "sub-1", ParentID: "parent-1", AssignedTo: testAgentID, Status: task.StatusDone}

	p.TaskStatus(context.Background(), "conv-1", sub, "success")

	require.Len(t, q.msgs, 1)
	assert.Equal(t, messagequeue.SubjectTaskEvent, q.msgs[0].subject)
	require.NoError(t, messagequeue.Validate(q.msgs[0].subject, q.msgs[0].data))

	var payload messagequeue.TaskEventPayload
	require.NoError(t, json.Unmarshal(q.msgs[0].data, &payload))
	assert.Equal(t, "sub-1", payload.TaskID)
	assert.Equal(t, "parent-1", payload.ParentID)
	assert.Equal(t, "Done", payload.Status)
	assert.Equal(t, "success", payload.Detail)

	assert.Equal(t, []broadcastEvent{{"conv-1", broadcast.EventTaskStatus}}, h.events)
}

func TestEventPublisher_PlanProgressOnlyBroadcastsProgress(t *testing.T) {
	p, q, h := newTestPublisher()
	parent := &task.Task{ID: "parent-1", Title: "Qualify leads"}
	subs := []task.Task{{ID: "a", Status: task.StatusDone}, {ID: "b", Status: task.StatusInProgress}}
	ctx := context.Background()

	p.PlanProgress(ctx, "conv-1", parent, subs, planEventCreated)
	p.PlanProgress(ctx, "conv-1", parent, subs, planEventProgress)
	p.PlanProgress(ctx, "conv-1", parent, subs, planEventCompleted)

	assert.Equal(t, []string{messagequeue.SubjectPlanEvent, messagequeue.SubjectPlanEvent}, q.subjects())
	require.Len(t, h.events, 3)
	assert.Equal(t, broadcast.EventPlanProgress, h.events[1].eventType)
	assert.Equal(t, broadcast.EventPlanComplete, h.events[2].eventType)

	var payload messagequeue.PlanEventPayload
	require.NoError(t, json.Unmarshal(q.msgs[0].data, &payload))
	assert.Equal(t, 1, payload.Completed)
	assert.Equal(t, 2, payload.Total)
}

func TestEventPublisher_NilSinksAndPublishErrors(t *testing.T) {
	var nilPub *EventPublisher
	nilPub.TaskStatus(context.Background(), "c", &task.Task{ID: "x"}, "")
	nilPub.Timeout(context.Background(), &task.Task{ID: "x"}, time.Minute)

	p := NewEventPublisher(nil, nil)
	p.TaskStatus(context.Background(), "c", &task.Task{ID: "x"}, "")
	p.Message(context.Background(), "c", "x", "user", "hi")

	q := &recordingQueue{err: errors.New("nats down")}
	p = NewEventPublisher(q, nil)
	p.Timeout(context.Background(), &task.Task{ID: "x"}, time.Minute)
	assert.Empty(t, q.msgs)
}
