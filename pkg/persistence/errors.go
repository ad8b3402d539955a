package persistence

import (
	"errors"
	"fmt"

	"github.com/dukex/anyflow/pkg/session"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow does not exist under the caller's scope.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowAlreadyExists indicates Create was given an id that is taken.
	ErrFlowAlreadyExists = errors.New("flow already exists")

	// ErrUnauthorized indicates an absent or expired session, or a backend
	// that refused the caller's credentials.
	ErrUnauthorized = session.ErrUnauthorized

	// ErrBackendUnavailable indicates the backend could not be reached. Callers
	// decide whether to retry.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrVersionConflict indicates other writers kept taking the next version
	// number until the backend gave up. Nothing was stored; the call can be
	// repeated.
	ErrVersionConflict = errors.New("version number conflict")

	// ErrInvalidSortField indicates a sort field outside the allowlist.
	ErrInvalidSortField = errors.New("invalid sort field")

	// ErrInvalidSortOrder indicates a sort order other than asc or desc.
	ErrInvalidSortOrder = errors.New("invalid sort order")
)

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	FlowID string // Flow ID if applicable
	Err    error  // Underlying error
}

func (e *FlowError) Error() string {
	if e.FlowID == "" {
		return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for flow errors.
func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{
		Op:     op,
		FlowID: flowID,
		Err:    err,
	}
}

// Unavailable wraps a transport or driver failure as ErrBackendUnavailable
// while keeping the cause in the chain.
func Unavailable(op, flowID string, err error) *FlowError {
	return NewFlowError(op, flowID, fmt.Errorf("%w: %w", ErrBackendUnavailable, err))
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsUnauthorized checks if an error indicates a missing or rejected session.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsBackendUnavailable checks if an error indicates the backend could not be reached.
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsVersionConflict checks if an error indicates a lost race for a version number.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
