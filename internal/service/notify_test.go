package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/task"
	"github.com/heyitsaamir/conductor/internal/port/notifier"
)

func TestReply_PrimaryAndMirrors(t *testing.T) {
	h := newHarness()
	mirror := &fakeNotifier{}
	broken := &fakeNotifier{sendErr: errors.New("webhook down")}
	n := NewConversationNotifier(h.tasks, h.states, h.chat, broken, mirror)

	n.Reply(context.Background(), "conv-1", "hello", levelInfo, SourceConductor)

	require.Len(t, h.chat.texts(), 1)
	assert.Equal(t, "conv-1", h.chat.texts()[0].ConversationID)
	require.Len(t, mirror.texts(), 1, "a failing mirror must not stop the others")
	assert.Equal(t, "hello", mirror.texts()[0].Message)
}

func TestReply_NoPrimary(t *testing.T) {
	h := newHarness()
	n := NewConversationNotifier(h.tasks, h.states, nil)
	parent, _ := h.seedPlan(t, "conv-1", "a")

	n.Apologize(context.Background(), "conv-1")
	assert.NoError(t, n.RefreshPlan(context.Background(), parent.ID, false))
}

func TestRefreshPlan_WithoutUpdateInPlace(t *testing.T) {
	h := newHarness()
	plain := &fakeNotifier{}
	n := NewConversationNotifier(h.tasks, h.states, plain)
	parent, _ := h.seedPlan(t, "conv-1", "a")
	ctx := context.Background()

	require.NoError(t, n.RefreshPlan(ctx, parent.ID, false))
	require.NoError(t, n.RefreshPlan(ctx, parent.ID, false))

	cards := plain.cards()
	require.Len(t, cards, 2)
	assert.Empty(t, cards[1].ActivityID)
	assert.Equal(t, SourcePlanCard, cards[0].Source)
}

func TestRefreshPlan_MissingState(t *testing.T) {
	h := newHarness()
	parent, _ := h.seedPlan(t, "conv-1")
	orphan, err := h.tasks.CreateTask(context.Background(), task.CreateRequest{Title: "orphan", CreatedBy: agent.ConductorID})
	require.NoError(t, err)

	assert.NoError(t, h.notify.RefreshPlan(context.Background(), parent.ID, true))
	assert.ErrorIs(t, h.notify.RefreshPlan(context.Background(), orphan.ID, false), domain.ErrNotFound)
	assert.ErrorIs(t, h.notify.RefreshPlan(context.Background(), "missing", false), domain.ErrNotFound)
}

var _ notifier.Notifier = (*fakeNotifier)(nil)
