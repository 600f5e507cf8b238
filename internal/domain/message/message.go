// Package message defines the do/did envelopes exchanged between the
// conductor, its delegate agents and the chat bridge.
//
// Envelopes form a closed set: Do and Did implement Message, and a Did
// carries exactly one Outcome (Success, Failure or Clarification). Handlers
// switch on the concrete types and treat any other value as a bug.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/heyitsaamir/conductor/internal/domain"
)

// Type discriminates envelopes on the wire.
type Type string

const (
	TypeDo  Type = "do"
	TypeDid Type = "did"
)

// MethodHandleMessage is the method every delegate agent accepts.
const MethodHandleMessage = "handleMessage"

// Message is implemented by Do and Did only.
type Message interface {
	Type() Type
	Task() string
	sealed()
}

// Do asks the receiver to act on a task.
type Do struct {
	TaskID string   `json:"taskId"`
	Method string   `json:"method"`
	Params DoParams `json:"params"`
}

// DoParams is the payload of a Do message.
type DoParams struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (Do) Type() Type       { return TypeDo }
func (d Do) Task() string   { return d.TaskID }
func (Do) sealed()          {}
func (d Do) String() string { return fmt.Sprintf("do(%s, %s)", d.TaskID, d.Method) }

// MarshalJSON adds the type discriminator.
func (d Do) MarshalJSON() ([]byte, error) {
	type plain Do
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeDo, plain(d)})
}

// Validate checks required fields.
func (d *Do) Validate() error {
	if d.Method == "" {
		return fmt.Errorf("%w: do.method is required", domain.ErrValidation)
	}
	if d.Params.Message == "" {
		return fmt.Errorf("%w: do.params.message is required", domain.ErrValidation)
	}
	return nil
}

// Status is the outcome discriminator of a Did message.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusError              Status = "error"
	StatusNeedsClarification Status = "needs_clarification"
)

// Outcome is implemented by Success, Failure and Clarification only.
type Outcome interface {
	Status() Status
	Text() string
	outcome()
}

// Success reports a completed unit of work.
type Success struct {
	Message string
}

// Failure reports a delegate error.
type Failure struct {
	Code    int
	Message string
}

// Clarification asks for more information before work can continue.
type Clarification struct {
	Message string
}

func (Success) Status() Status       { return StatusSuccess }
func (s Success) Text() string       { return s.Message }
func (Success) outcome()             {}
func (Failure) Status() Status       { return StatusError }
func (f Failure) Text() string       { return f.Message }
func (Failure) outcome()             {}
func (Clarification) Status() Status { return StatusNeedsClarification }
func (c Clarification) Text() string { return c.Message }
func (Clarification) outcome()       {}

// Did reports the outcome of a unit of work.
type Did struct {
	TaskID  string
	Outcome Outcome
}

func (Did) Type() Type     { return TypeDid }
func (d Did) Task() string { return d.TaskID }
func (Did) sealed()        {}

// Status is a shorthand for d.Outcome.Status().
func (d Did) Status() Status {
	if d.Outcome == nil {
		return ""
	}
	return d.Outcome.Status()
}

type resultBody struct {
	Message string `json:"message,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type clarificationBody struct {
	Message string `json:"message"`
}

type didWire struct {
	Type          Type               `json:"type"`
	TaskID        string             `json:"taskId"`
	Status        Status             `json:"status"`
	Result        *resultBody        `json:"result,omitempty"`
	Error         *errorBody         `json:"error,omitempty"`
	Clarification *clarificationBody `json:"clarification,omitempty"`
}

// MarshalJSON renders the wire shape for the outcome variant.
func (d Did) MarshalJSON() ([]byte, error) {
	w := didWire{Type: TypeDid, TaskID: d.TaskID}
	switch o := d.Outcome.(type) {
	case Success:
		w.Status = StatusSuccess
		w.Result = &resultBody{Message: o.Message}
	case Failure:
		w.Status = StatusError
		w.Error = &errorBody{Code: o.Code, Message: o.Message}
	case Clarification:
		w.Status = StatusNeedsClarification
		w.Clarification = &clarificationBody{Message: o.Message}
	default:
		return nil, fmt.Errorf("did %s: unknown outcome %T", d.TaskID, d.Outcome)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape into the matching outcome variant.
func (d *Did) UnmarshalJSON(data []byte) error {
	var w didWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.TaskID = w.TaskID
	switch w.Status {
	case StatusSuccess:
		var s Success
		if w.Result != nil {
			s.Message = w.Result.Message
		}
		d.Outcome = s
	case StatusError:
		var f Failure
		if w.Error != nil {
			f = Failure{Code: w.Error.Code, Message: w.Error.Message}
		}
		d.Outcome = f
	case StatusNeedsClarification:
		if w.Clarification == nil {
			return fmt.Errorf("%w: needs_clarification without clarification", domain.ErrValidation)
		}
		d.Outcome = Clarification{Message: w.Clarification.Message}
	default:
		return fmt.Errorf("%w: unknown did status %q", domain.ErrValidation, w.Status)
	}
	return nil
}

// Validate checks required fields.
func (d *Did) Validate() error {
	if d.TaskID == "" {
		return fmt.Errorf("%w: did.taskId is required", domain.ErrValidation)
	}
	if d.Outcome == nil {
		return fmt.Errorf("%w: did outcome is required", domain.ErrValidation)
	}
	return nil
}

// Decode parses a raw envelope into a Do or a Did.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %w", domain.ErrValidation, err)
	}

	switch head.Type {
	case TypeDo:
		var d Do
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("%w: malformed do: %w", domain.ErrValidation, err)
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return d, nil
	case TypeDid:
		var d Did
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, head.Type)
	}
}
