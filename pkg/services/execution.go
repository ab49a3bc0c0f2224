package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// DefaultExecuteWaitTimeout bounds a synchronous manual execution.
const DefaultExecuteWaitTimeout = 60 * time.Second

// Runner is the part of the engine manual executions use.
type Runner interface {
	Start(ctx context.Context, workflow *models.Workflow, tc models.TriggerContext) (*engine.Run, error)
	Wait(ctx context.Context, run *engine.Run) (*models.Execution, error)
	Cancel(ctx context.Context, executionID string) (*models.Execution, error)
}

type Execution struct {
	deps

	runner      Runner
	waitTimeout time.Duration
}

// NewExecution creates the execution service. waitTimeout bounds synchronous
// executions; zero uses DefaultExecuteWaitTimeout.
func NewExecution(persistence persistence.Persistence, runner Runner, waitTimeout time.Duration, opts ...Option) *Execution {
	if waitTimeout <= 0 {
		waitTimeout = DefaultExecuteWaitTimeout
	}

	return &Execution{
		deps:        newDeps(persistence, opts),
		runner:      runner,
		waitTimeout: waitTimeout,
	}
}

// ListExecutionsRequest filters and pages execution history.
type ListExecutionsRequest struct {
	WorkflowID string
	Status     *models.ExecutionStatus
	Limit      int
	Offset     int
}

// ListExecutionsResponse is one page of executions, newest first.
type ListExecutionsResponse struct {
	Executions  []*models.Execution `json:"executions"`
	TotalCount  int64               `json:"total_count"`
	HasNextPage bool                `json:"has_next_page"`
}

func (e *Execution) List(ctx context.Context, req ListExecutionsRequest) (*ListExecutionsResponse, error) {
	if req.Status != nil && !req.Status.Valid() {
		return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", *req.Status), ErrInvalidStatus)
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	result, err := e.persistence.ExecutionRepository().List(ctx, persistence.ExecutionFilter{
		WorkflowID: req.WorkflowID,
		Status:     req.Status,
		Limit:      persistence.NormalizeLimit(req.Limit),
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return &ListExecutionsResponse{
		Executions:  result.Executions,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

func (e *Execution) FetchByID(ctx context.Context, id string) (*models.Execution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, id)
}

// Execute fires a manual run. Without wait it returns the pending execution.
// With wait it blocks until the run is terminal or the wait timeout passes,
// then returns the latest state; the run itself keeps going either way.
func (e *Execution) Execute(ctx context.Context, workflowID string, input map[string]any, wait bool) (*models.Execution, error) {
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	run, err := e.runner.Start(ctx, workflow, models.ManualTrigger(input, e.clock.Now()))
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Manual execution started", "workflow_id", workflowID, "execution_id", run.ExecutionID, "wait", wait)

	if !wait {
		return run.Execution(), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.waitTimeout)
	defer cancel()

	execution, err := e.runner.Wait(waitCtx, run)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	return execution, nil
}

// Cancel requests cooperative cancellation of a pending or running execution.
func (e *Execution) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := e.runner.Cancel(ctx, executionID)
	if err != nil {
		if errors.Is(err, engine.ErrExecutionFinished) {
			return nil, &ServiceError{
				Op:      "Cancel",
				Code:    "EXECUTION_FINISHED",
				Message: fmt.Sprintf("execution '%s' already finished", executionID),
				Err:     err,
			}
		}

		return nil, err
	}

	return execution, nil
}
