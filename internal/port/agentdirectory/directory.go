// Package agentdirectory defines the port for resolving agent ids to addresses.
package agentdirectory

import (
	"context"

	"github.com/heyitsaamir/conductor/internal/domain/agent"
)

// Directory resolves delegate agents. Unknown ids return domain.ErrNotFound.
type Directory interface {
	Get(ctx context.Context, id string) (agent.Agent, error)
	List(ctx context.Context) ([]agent.Agent, error)
}
