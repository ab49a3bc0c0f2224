// Package services implements the workflow, execution, scheduled task and
// catalog operations behind the HTTP API.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/templates"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidSortField     = errors.New("invalid sort field")
	ErrInvalidSortOrder     = errors.New("invalid sort order")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrActionsRequired      = errors.New("workflow must have at least one action")
	ErrDuplicateActionOrder = errors.New("action order values must be unique")
	ErrInvalidAction        = errors.New("invalid action")
	ErrInvalidTrigger       = errors.New("invalid trigger")
	ErrInvalidSchedule      = errors.New("invalid schedule")
	ErrInvalidCondition     = errors.New("invalid condition")
	ErrInvalidTask          = errors.New("invalid scheduled task")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowAlreadyInState = errors.New("workflow already in requested state")
	ErrWorkflowArchived       = errors.New("workflow is archived")
	ErrInvalidTransition      = errors.New("invalid workflow status transition")
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
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrActionsRequired) ||
		errors.Is(err, ErrDuplicateActionOrder) ||
		errors.Is(err, ErrInvalidAction) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrInvalidTask)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyInState) ||
		errors.Is(err, ErrWorkflowArchived) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, engine.ErrWorkflowNotActive) ||
		errors.Is(err, engine.ErrExecutionFinished) ||
		errors.Is(err, persistence.ErrExecutionImmutable)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err) || errors.Is(err, templates.ErrTemplateNotFound)
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

// problems collects every definition-time problem of a resource so a client
// sees all of them at once.
type problems struct {
	messages []string
	errs     []error
}

func (p *problems) add(sentinel error, format string, args ...any) {
	p.messages = append(p.messages, fmt.Sprintf(format, args...))
	p.errs = append(p.errs, sentinel)
}

func (p *problems) err(op, code string) error {
	if len(p.messages) == 0 {
		return nil
	}

	return NewValidationError(op, code, strings.Join(p.messages, "; "), errors.Join(p.errs...))
}
