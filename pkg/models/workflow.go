// Package models defines the core domain models for workflow automation and scheduled tasks.
package models

import (
	"slices"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Eligible for triggers and manual runs
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Temporarily not executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Terminal
)

// WorkflowStatuses lists every valid workflow status.
func WorkflowStatuses() []WorkflowStatus {
	return []WorkflowStatus{WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusArchived}
}

// Valid reports whether s is a known status.
func (s WorkflowStatus) Valid() bool {
	return slices.Contains(WorkflowStatuses(), s)
}

// FailurePolicy decides what happens to the remaining actions after one fails.
type FailurePolicy string

const (
	FailurePolicyStop     FailurePolicy = "stop"
	FailurePolicyContinue FailurePolicy = "continue"
)

// DefaultMaxConcurrent is the per-workflow concurrency used when a workflow does not set one.
const DefaultMaxConcurrent = 1

// Workflow is an ordered action pipeline fired by a set of triggers.
type Workflow struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"                      validate:"required,min=3"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Status         WorkflowStatus  `json:"status"                    validate:"required"`
	Actions        []*Action       `json:"actions"                   validate:"dive"`
	Triggers       []*Trigger      `json:"triggers"                  validate:"dive"`
	FailurePolicy  FailurePolicy   `json:"failure_policy"            validate:"omitempty,oneof=stop continue"`
	MaxConcurrent  int             `json:"max_concurrent"            validate:"min=0"`
	Variables      map[string]any  `json:"variables"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	TemplateID     string          `json:"template_id,omitempty"`
	TotalRuns      int64           `json:"total_runs"`
	SuccessfulRuns int64           `json:"successful_runs"`
	FailedRuns     int64           `json:"failed_runs"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	LastRunStatus  ExecutionStatus `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsActive reports whether the workflow may be fired.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// EffectiveFailurePolicy returns the failure policy, defaulting to stop.
func (w *Workflow) EffectiveFailurePolicy() FailurePolicy {
	if w.FailurePolicy == FailurePolicyContinue {
		return FailurePolicyContinue
	}

	return FailurePolicyStop
}

// EffectiveMaxConcurrent returns the per-workflow run limit, defaulting to one.
func (w *Workflow) EffectiveMaxConcurrent() int {
	if w.MaxConcurrent <= 0 {
		return DefaultMaxConcurrent
	}

	return w.MaxConcurrent
}

// SortedActions returns the actions in ascending pipeline order without
// reordering the workflow itself.
func (w *Workflow) SortedActions() []*Action {
	sorted := slices.Clone(w.Actions)
	slices.SortStableFunc(sorted, func(a, b *Action) int {
		return a.Order - b.Order
	})

	return sorted
}

// TriggerByID finds one of the workflow's triggers.
func (w *Workflow) TriggerByID(id string) *Trigger {
	for _, trigger := range w.Triggers {
		if trigger.ID == id {
			return trigger
		}
	}

	return nil
}

// CanTransitionTo reports whether the workflow state machine allows moving to next.
func (w *Workflow) CanTransitionTo(next WorkflowStatus) bool {
	switch w.Status {
	case WorkflowStatusDraft:
		return next == WorkflowStatusActive || next == WorkflowStatusArchived
	case WorkflowStatusActive:
		return next == WorkflowStatusPaused || next == WorkflowStatusArchived
	case WorkflowStatusPaused:
		return next == WorkflowStatusActive || next == WorkflowStatusArchived
	default:
		return false
	}
}

// RecordRun folds a terminal execution into the run counters.
func (w *Workflow) RecordRun(status ExecutionStatus, at time.Time) {
	w.TotalRuns++

	switch status {
	case ExecutionStatusCompleted:
		w.SuccessfulRuns++
	case ExecutionStatusFailed:
		w.FailedRuns++
	}

	ranAt := at
	w.LastRunAt = &ranAt
	w.LastRunStatus = status
}
