/*
errors.go - Centralized error types for the tabulation engine

PURPOSE:
  All error types in one place for consistency and discoverability. The
  request layer maps these to user-facing responses: "forbidden" renders
  differently from "invalid state", which renders differently from "missing".

ERROR CATEGORIES:
  1. NotFound        - Referenced sheet, version, or template row is missing
  2. Workflow errors - A pointer transition violates the required ordering
  3. Authorization   - Caller lacks a capability or violates submitter/locker
  4. Aggregation gap - A non-derived row had no matching content (warning)

PROPAGATION:
  All errors are raised synchronously at the point of violation and propagate
  unhandled to the request boundary. None are retried internally.

SEE ALSO:
  - workflow.go: Raises workflow and authorization errors
  - aggregate.go: Logs aggregation gaps
*/
package tabulation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced tally sheet, version, or
	// template does not exist.
	ErrNotFound = errors.New("not found")

	// ErrWorkflow is returned when a pointer transition violates the required
	// ordering (submit-before-lock, lock-before-notify, notify-before-release,
	// no double notify/release).
	ErrWorkflow = errors.New("workflow violation")

	// ErrAuthorization is returned when the caller lacks a capability or
	// violates the submitter-cannot-lock rule.
	ErrAuthorization = errors.New("not authorized")

	// ErrAggregationGap marks a non-derived template row for which the caller
	// supplied no content and no meta source exists. The row is omitted from
	// the version (matching historical behavior) but the gap is logged.
	ErrAggregationGap = errors.New("aggregation gap")

	// ErrVersionMismatch is returned when a version id does not belong to the
	// tally sheet a transition targets.
	ErrVersionMismatch = errors.New("version does not belong to tally sheet")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Kind string // "tally sheet", "version", "template", "status report"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found (id=%s)", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// WorkflowError reports a rejected pointer transition.
type WorkflowError struct {
	TallySheetID TallySheetID
	Transition   string // "submit", "lock", "notify", "release"
	Reason       string
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("cannot %s tally sheet %s: %s", e.Transition, e.TallySheetID, e.Reason)
}

func (e *WorkflowError) Unwrap() error { return ErrWorkflow }

// AuthorizationError reports a forbidden action, distinct from WorkflowError
// so callers can render "forbidden" vs "invalid state" differently.
type AuthorizationError struct {
	TallySheetID TallySheetID
	Actor        UserID
	Action       string
	Reason       string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s may not %s tally sheet %s: %s", e.Actor, e.Action, e.TallySheetID, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsWorkflow reports whether the error is a rejected state transition.
func IsWorkflow(err error) bool { return errors.Is(err, ErrWorkflow) }

// IsAuthorization reports whether the error is a capability/role failure.
func IsAuthorization(err error) bool { return errors.Is(err, ErrAuthorization) }
