package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWorkflowNotActive is returned when a run is requested for a workflow that is not active.
	ErrWorkflowNotActive = errors.New("workflow is not active")

	// ErrExecutionFinished is returned when cancelling an execution that already reached a terminal status.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrEngineStopped is returned by Start after Shutdown.
	ErrEngineStopped = errors.New("engine stopped")

	ErrActionExecution  = errors.New("action execution failed")
	ErrExecutionTimeout = errors.New("action timed out")
)

// ActionExecutionError is the final failure of an action after the retry policy gave up.
type ActionExecutionError struct {
	ActionID   string
	ActionType string
	Attempts   int
	Retryable  bool
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action '%s' (%s) failed after %d attempt(s): %v", e.ActionID, e.ActionType, e.Attempts, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

func (e *ActionExecutionError) Is(target error) bool {
	return target == ErrActionExecution
}

// ExecutionTimeoutError is an action invocation cut off by its timeout.
type ExecutionTimeoutError struct {
	ActionID string
	Timeout  time.Duration
	Err      error
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("action '%s' timed out after %s", e.ActionID, e.Timeout)
}

func (e *ExecutionTimeoutError) Unwrap() error {
	return e.Err
}

func (e *ExecutionTimeoutError) Is(target error) bool {
	return target == ErrExecutionTimeout || target == ErrActionExecution
}

// IsTimeout reports whether err came from an action timeout.
func IsTimeout(err error) bool {
	var timeout *ExecutionTimeoutError

	return errors.As(err, &timeout)
}
