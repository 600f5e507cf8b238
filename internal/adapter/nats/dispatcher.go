package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/message"
	"github.com/heyitsaamir/conductor/internal/port/messagequeue"
)

// Dispatcher delivers do messages by publishing to agents.do.{agentId}.
// Agents reply on conductor.did.
type Dispatcher struct {
	queue messagequeue.Queue
}

// NewDispatcher creates a dispatcher over queue.
func NewDispatcher(queue messagequeue.Queue) *Dispatcher {
	return &Dispatcher{queue: queue}
}

func (d *Dispatcher) Dispatch(ctx context.Context, to agent.Agent, msg message.Do) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal do for %s: %w", to.ID, err)
	}
	if err := d.queue.Publish(ctx, messagequeue.AgentSubject(to.ID), data); err != nil {
		return fmt.Errorf("dispatch to %s: %w", to.ID, err)
	}
	return nil
}
