// Package services provides the flow operations exposed to transports.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/registry"
	"github.com/dukex/anyflow/pkg/session"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = persistence.ErrInvalidSortField
	ErrInvalidSortOrder = persistence.ErrInvalidSortOrder
	ErrFlowNil          = errors.New("flow cannot be nil")
	ErrNodeNil          = errors.New("node cannot be nil")
	ErrInvalidDocument  = errors.New("invalid flow document")

	// Lookup Errors (404 Not Found).
	ErrFlowNotFound = persistence.ErrFlowNotFound

	// Access Errors (401 Unauthorized).
	ErrUnauthorized = session.ErrUnauthorized
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrFlowNil) ||
		errors.Is(err, ErrNodeNil) ||
		errors.Is(err, ErrInvalidDocument) ||
		models.IsValidationError(err) ||
		registry.IsInvalidConfig(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsFlowNotFound(err) || models.IsNotFoundError(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, persistence.ErrFlowAlreadyExists) ||
		persistence.IsVersionConflict(err) ||
		models.IsConflictError(err)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsUnavailable(err error) bool {
	return persistence.IsBackendUnavailable(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
