// Package persistence provides the storage abstraction for workflows, executions and scheduled tasks.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ScheduledTaskRepository() ScheduledTaskRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Pagination defaults shared by every backend.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ListWorkflowsOptions filters and pages workflow listings.
type ListWorkflowsOptions struct {
	Status   *models.WorkflowStatus
	Category string

	Limit  int
	Offset int

	SortBy    string // created_at, updated_at or name
	SortOrder string // asc or desc
}

// WorkflowListResult is one page of workflows.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

// TriggerState is the runtime part of a trigger, written by the scheduler.
type TriggerState struct {
	IsActive          bool
	NextFireAt        *time.Time
	LastFiredAt       *time.Time
	DeactivatedReason string
}

// WorkflowRepository stores workflows with their triggers and actions.
//
// Run counters (total_runs, successful_runs, failed_runs, last_run_*) are owned
// by ExecutionRepository.Complete: Save keeps the stored values and copies
// them back into the saved workflow.
type WorkflowRepository interface {
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error)
	CountByStatus(ctx context.Context) (map[models.WorkflowStatus]int64, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	// Delete removes the workflow with its triggers and actions. Executions are kept.
	Delete(ctx context.Context, id string) error
	SetTriggerState(ctx context.Context, workflowID, triggerID string, state TriggerState) error
}

// ExecutionFilter filters and pages execution listings, newest first.
type ExecutionFilter struct {
	WorkflowID string
	Status     *models.ExecutionStatus
	Limit      int
	Offset     int
}

// ExecutionListResult is one page of executions.
type ExecutionListResult struct {
	Executions  []*models.Execution
	TotalCount  int64
	HasNextPage bool
}

// ExecutionRepository is the append-mostly execution store. Records are
// updated in place until terminal and immutable afterwards.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	// Update persists progress of a non-terminal execution. A stored cancel
	// request and a later heartbeat are kept.
	Update(ctx context.Context, execution *models.Execution) error
	// Complete writes a terminal execution and folds it into the owning
	// workflow's run counters in one unit.
	Complete(ctx context.Context, execution *models.Execution) error
	// RequestCancel flags a non-terminal execution for its owner to stop.
	RequestCancel(ctx context.Context, id string) (*models.Execution, error)
	// Heartbeat stamps the owner's liveness on a non-terminal execution and
	// returns the stored record.
	Heartbeat(ctx context.Context, id string, at time.Time) (*models.Execution, error)
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	List(ctx context.Context, filter ExecutionFilter) (*ExecutionListResult, error)
	// ListSince returns executions triggered at or after since.
	ListSince(ctx context.Context, since time.Time) ([]*models.Execution, error)
	// ListInFlight returns pending and running executions.
	ListInFlight(ctx context.Context) ([]*models.Execution, error)
}

// ScheduledTaskRepository stores standalone scheduled tasks.
type ScheduledTaskRepository interface {
	List(ctx context.Context) ([]*models.ScheduledTask, error)
	GetByID(ctx context.Context, id string) (*models.ScheduledTask, error)
	Save(ctx context.Context, task *models.ScheduledTask) error
	Delete(ctx context.Context, id string) error
	// DueTasks returns active tasks whose next_run_at is at or before now.
	DueTasks(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error)
	// Update applies fn to the stored task under a per-task lock and persists
	// the result. An error from fn aborts the write.
	Update(ctx context.Context, id string, fn func(task *models.ScheduledTask) error) (*models.ScheduledTask, error)
}

// NormalizeLimit applies the pagination defaults.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}

	if limit > MaxLimit {
		return MaxLimit
	}

	return limit
}
