package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTriggerNotFound indicates a trigger was not found in its workflow.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates Create was called twice for one id.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrExecutionImmutable indicates a write to an execution that already reached a terminal status.
	ErrExecutionImmutable = errors.New("execution is terminal and immutable")

	// ErrExecutionNotTerminal indicates Complete was called with a non-terminal execution.
	ErrExecutionNotTerminal = errors.New("execution is not terminal")

	// ErrScheduledTaskNotFound indicates a scheduled task was not found by the given identifier.
	ErrScheduledTaskNotFound = errors.New("scheduled task not found")

	// ErrInvalidSortField indicates an unsupported sort field was requested.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// ScheduledTaskError wraps scheduled-task errors with additional context.
type ScheduledTaskError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *ScheduledTaskError) Error() string {
	return fmt.Sprintf("%s operation failed for scheduled task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *ScheduledTaskError) Unwrap() error {
	return e.Err
}

func (e *ScheduledTaskError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewScheduledTaskError creates a new scheduled task error with context.
func NewScheduledTaskError(op, taskID string, err error) *ScheduledTaskError {
	return &ScheduledTaskError{Op: op, TaskID: taskID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsScheduledTaskNotFound checks if an error indicates a scheduled task was not found.
func IsScheduledTaskNotFound(err error) bool {
	return errors.Is(err, ErrScheduledTaskNotFound)
}

// IsNotFound checks for any not-found sentinel.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) || IsExecutionNotFound(err) || IsScheduledTaskNotFound(err) ||
		errors.Is(err, ErrTriggerNotFound)
}
