package models

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ErrInvalidTransition is returned when a status change would move an execution backwards.
var ErrInvalidTransition = errors.New("invalid execution status transition")

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to respects the execution state machine.
func CanTransition(from, to ExecutionStatus) bool {
	switch from {
	case ExecutionStatusPending:
		return to == ExecutionStatusRunning || to == ExecutionStatusCancelled
	case ExecutionStatusRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

// ActionResultStatus is the outcome of one action within an execution.
type ActionResultStatus string

const (
	ActionResultSkipped   ActionResultStatus = "skipped"
	ActionResultSucceeded ActionResultStatus = "succeeded"
	ActionResultFailed    ActionResultStatus = "failed"
)

// Reasons recorded on skipped results.
const (
	SkipReasonConditionNotMet = "condition_not_met"
	SkipReasonPreviousFailed  = "previous_action_failed"
	SkipReasonCancelled       = "cancelled"
	SkipReasonInterrupted     = "interrupted"
)

// ActionResult records the final outcome of one action.
type ActionResult struct {
	ActionID   string             `json:"action_id"`
	ActionName string             `json:"action_name,omitempty"`
	ActionType string             `json:"action_type"`
	Order      int                `json:"order"`
	Status     ActionResultStatus `json:"status"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	DurationMs int64              `json:"duration_ms"`
	Attempts   int                `json:"attempts"`
	Error      string             `json:"error,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Output     map[string]any     `json:"output,omitempty"`
}

// Execution is one concrete run of a workflow.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowName    string          `json:"workflow_name"`
	Status          ExecutionStatus `json:"status"`
	TriggeredBy     string          `json:"triggered_by"`
	TriggerKind     TriggerKind     `json:"trigger_kind"`
	TriggeredAt     time.Time       `json:"triggered_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationMs      int64           `json:"duration_ms"`
	ErrorMessage    *string         `json:"error_message"`
	Input           map[string]any  `json:"input,omitempty"`
	ActionCount     int             `json:"action_count"`
	ActionResults   []*ActionResult `json:"action_results"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`

	// Owner identifies the engine instance running the execution.
	Owner       string     `json:"owner,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// NewExecution builds a pending execution for workflow fired by tc.
func NewExecution(id string, workflow *Workflow, tc TriggerContext, at time.Time) *Execution {
	return &Execution{
		ID:            id,
		WorkflowID:    workflow.ID,
		WorkflowName:  workflow.Name,
		Status:        ExecutionStatusPending,
		TriggeredBy:   tc.TriggeredBy(),
		TriggerKind:   tc.Kind,
		TriggeredAt:   at,
		Input:         tc.Payload,
		ActionCount:   len(workflow.Actions),
		ActionResults: make([]*ActionResult, 0, len(workflow.Actions)),
	}
}

// IsTerminal reports whether the execution has finished.
func (e *Execution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// Transition moves the execution forward, stamping started and completed times.
func (e *Execution) Transition(to ExecutionStatus, at time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}

	e.Status = to

	if to == ExecutionStatusRunning {
		startedAt := at
		e.StartedAt = &startedAt

		return nil
	}

	if to.IsTerminal() {
		completedAt := at
		if e.StartedAt != nil && completedAt.Before(*e.StartedAt) {
			completedAt = *e.StartedAt
		}

		e.CompletedAt = &completedAt

		if e.StartedAt != nil {
			e.DurationMs = completedAt.Sub(*e.StartedAt).Milliseconds()
		}
	}

	return nil
}

// Fail moves the execution to failed with a message.
func (e *Execution) Fail(message string, at time.Time) error {
	if err := e.Transition(ExecutionStatusFailed, at); err != nil {
		return err
	}

	e.ErrorMessage = &message

	return nil
}

// AppendResult records an action outcome.
func (e *Execution) AppendResult(result *ActionResult) {
	e.ActionResults = append(e.ActionResults, result)
}

// SkipRemaining records the actions that have no result yet as skipped. actions must be in pipeline order.
func (e *Execution) SkipRemaining(actions []*Action, reason string) {
	for _, action := range actions[min(len(e.ActionResults), len(actions)):] {
		e.AppendResult(&ActionResult{
			ActionID:   action.ID,
			ActionName: action.Name,
			ActionType: action.Type,
			Order:      action.Order,
			Status:     ActionResultSkipped,
			Reason:     reason,
		})
	}
}

// Stale reports whether the owner showed no liveness since cutoff. An
// execution without an owner is always stale.
func (e *Execution) Stale(cutoff time.Time) bool {
	if e.Owner == "" {
		return true
	}

	last := e.TriggeredAt
	if e.HeartbeatAt != nil {
		last = *e.HeartbeatAt
	}

	return last.Before(cutoff)
}

// MergeStored keeps the fields other instances write on a stored record: a
// cancel request and the latest heartbeat.
func (e *Execution) MergeStored(stored *Execution) {
	e.CancelRequested = e.CancelRequested || stored.CancelRequested

	if stored.HeartbeatAt != nil && (e.HeartbeatAt == nil || stored.HeartbeatAt.After(*e.HeartbeatAt)) {
		e.HeartbeatAt = cloneTime(stored.HeartbeatAt)
	}
}

// Clone returns a copy safe to hand to another goroutine.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}

	clone := *e
	clone.Input = maps.Clone(e.Input)
	clone.StartedAt = cloneTime(e.StartedAt)
	clone.CompletedAt = cloneTime(e.CompletedAt)
	clone.HeartbeatAt = cloneTime(e.HeartbeatAt)

	if e.ErrorMessage != nil {
		message := *e.ErrorMessage
		clone.ErrorMessage = &message
	}

	clone.ActionResults = make([]*ActionResult, len(e.ActionResults))
	for i, result := range e.ActionResults {
		copied := *result
		copied.StartedAt = cloneTime(result.StartedAt)
		copied.Output = maps.Clone(result.Output)
		clone.ActionResults[i] = &copied
	}

	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	copied := *t

	return &copied
}
