// Package delegate defines the port for sending work to delegate agents.
package delegate

import (
	"context"

	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/message"
)

// Dispatcher delivers a do message to an agent. Delivery is fire-and-forget:
// the agent reports back later with a did message on a separate channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, to agent.Agent, msg message.Do) error
}
