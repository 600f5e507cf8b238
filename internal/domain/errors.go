// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the input failed validation. Wrap it with the
// reason: fmt.Errorf("%w: title is required", domain.ErrValidation).
var ErrValidation = errors.New("validation failed")

// ErrStateExists is returned when an initial conversation state is created
// for a task that already has a current state.
var ErrStateExists = errors.New("conversation state already exists")

// ErrNestingDepth is returned when a task's parent itself has a parent.
// Only one level of subtasks is supported.
var ErrNestingDepth = errors.New("task nesting deeper than one level")

// ErrInconsistentState signals that persisted data violates a workflow
// invariant, e.g. two subtasks of one conversation waiting on the user.
var ErrInconsistentState = errors.New("inconsistent workflow state")
