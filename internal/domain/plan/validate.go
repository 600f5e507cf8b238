package plan

import (
	"errors"
	"fmt"

	"github.com/heyitsaamir/conductor/internal/domain"
)

var (
	ErrTitleRequired       = errors.New("plan title is required")
	ErrStepTitleRequired   = errors.New("subtask title is required")
	ErrStepMissingAgent    = errors.New("subtask agentId is required")
	ErrStepDescriptionSize = errors.New("subtask description too long")
)

// maxDescription bounds a single subtask description sent to an agent.
const maxDescription = 8192

// Validate checks the plan for structural correctness. A plan with zero
// subtasks is valid: it completes on its first workflow step.
func (p *Plan) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("%w: %w", domain.ErrValidation, ErrTitleRequired)
	}
	for i := range p.SubTasks {
		s := &p.SubTasks[i]
		if s.Title == "" {
			return fmt.Errorf("%w: subtask %d: %w", domain.ErrValidation, i, ErrStepTitleRequired)
		}
		if s.AgentID == "" {
			return fmt.Errorf("%w: subtask %d: %w", domain.ErrValidation, i, ErrStepMissingAgent)
		}
		if len(s.Description) > maxDescription {
			return fmt.Errorf("%w: subtask %d: %w", domain.ErrValidation, i, ErrStepDescriptionSize)
		}
	}
	return nil
}
