package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/heyitsaamir/conductor/internal/domain/message"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case subject == SubjectDo || subject == SubjectDid || strings.HasPrefix(subject, SubjectAgentDo+"."):
		if _, err := message.Decode(data); err != nil {
			return fmt.Errorf("envelope validation failed for %s: %w", subject, err)
		}
		return nil
	case subject == SubjectTaskEvent:
		target = &TaskEventPayload{}
	case subject == SubjectPlanEvent:
		target = &PlanEventPayload{}
	case subject == SubjectTimeoutEvent:
		target = &TimeoutEventPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
