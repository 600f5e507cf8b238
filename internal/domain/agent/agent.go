// Package agent defines delegate agents known to the conductor.
package agent

import (
	"fmt"

	"github.com/heyitsaamir/conductor/internal/domain"
)

// ConductorID is the identifier the conductor uses for itself, both as
// task creator and as the x-sender-id on outbound messages.
const ConductorID = "conductor"

// Agent is a remote service that executes subtasks.
type Agent struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	URL          string   `json:"url" yaml:"url"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities"`
}

// Validate checks required fields.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	if a.URL == "" {
		return fmt.Errorf("%w: agent %s: url is required", domain.ErrValidation, a.ID)
	}
	return nil
}

// DisplayName returns Name, or ID when no name is set.
func (a *Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
