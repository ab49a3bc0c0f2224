package file

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// ExecutionRepository stores one JSON document per execution.
type ExecutionRepository struct {
	docs      collection
	locks     *keyedMutex
	workflows *WorkflowRepository
}

// NewExecutionRepository creates an execution repository that updates run
// counters through workflows.
func NewExecutionRepository(root string, workflows *WorkflowRepository) *ExecutionRepository {
	return &ExecutionRepository{
		docs:      collection{dir: filepath.Join(root, "executions")},
		locks:     workflows.locks,
		workflows: workflows,
	}
}

func executionKey(id string) string {
	return "execution:" + id
}

// Create stores a new execution.
func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	unlock := er.locks.Lock(executionKey(execution.ID))
	defer unlock()

	var stored models.Execution

	found, err := er.docs.read(execution.ID, &stored)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if found {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if err := er.docs.write(execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update persists progress of a non-terminal execution, keeping a cancel
// request or heartbeat stored by another instance.
func (er *ExecutionRepository) Update(_ context.Context, execution *models.Execution) error {
	unlock := er.locks.Lock(executionKey(execution.ID))
	defer unlock()

	stored, err := er.mutable("Update", execution.ID)
	if err != nil {
		return err
	}

	execution.MergeStored(stored)

	if err := er.docs.write(execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return nil
}

// Complete writes the workflow counters and then the terminal execution while
// holding the execution lock and the workflow lock. When the execution write
// fails the counters are restored, so a retry counts the run once.
func (er *ExecutionRepository) Complete(_ context.Context, execution *models.Execution) error {
	if !execution.IsTerminal() {
		return persistence.NewExecutionError("Complete", execution.ID, persistence.ErrExecutionNotTerminal)
	}

	unlock := er.locks.Lock(executionKey(execution.ID))
	defer unlock()

	stored, err := er.mutable("Complete", execution.ID)
	if err != nil {
		return err
	}

	execution.MergeStored(stored)

	unlockWorkflow := er.locks.Lock(workflowKey(execution.WorkflowID))
	defer unlockWorkflow()

	restore, err := er.workflows.recordRunLocked(execution)
	if err != nil {
		return persistence.NewExecutionError("Complete", execution.ID, fmt.Errorf("updating workflow counters: %w", err))
	}

	if err := er.docs.write(execution.ID, execution); err != nil {
		if restoreErr := restore(); restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("restoring workflow counters: %w", restoreErr))
		}

		return persistence.NewExecutionError("Complete", execution.ID, err)
	}

	return nil
}

// RequestCancel flags a non-terminal execution so its owner stops before the next action.
func (er *ExecutionRepository) RequestCancel(_ context.Context, id string) (*models.Execution, error) {
	unlock := er.locks.Lock(executionKey(id))
	defer unlock()

	stored, err := er.mutable("RequestCancel", id)
	if err != nil {
		return nil, err
	}

	stored.CancelRequested = true

	if err := er.docs.write(id, stored); err != nil {
		return nil, persistence.NewExecutionError("RequestCancel", id, err)
	}

	return stored, nil
}

// Heartbeat stamps the liveness of a non-terminal execution and returns the stored record.
func (er *ExecutionRepository) Heartbeat(_ context.Context, id string, at time.Time) (*models.Execution, error) {
	unlock := er.locks.Lock(executionKey(id))
	defer unlock()

	stored, err := er.mutable("Heartbeat", id)
	if err != nil {
		return nil, err
	}

	heartbeat := at
	stored.HeartbeatAt = &heartbeat

	if err := er.docs.write(id, stored); err != nil {
		return nil, persistence.NewExecutionError("Heartbeat", id, err)
	}

	return stored, nil
}

// mutable loads the stored record and rejects terminal ones. The caller holds the execution lock.
func (er *ExecutionRepository) mutable(op, id string) (*models.Execution, error) {
	var stored models.Execution

	found, err := er.docs.read(id, &stored)
	if err != nil {
		return nil, persistence.NewExecutionError(op, id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	if stored.IsTerminal() {
		return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionImmutable)
	}

	return &stored, nil
}

// GetByID loads one execution.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	found, err := er.docs.read(id, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

// List returns executions newest first.
func (er *ExecutionRepository) List(_ context.Context, filter persistence.ExecutionFilter) (*persistence.ExecutionListResult, error) {
	limit := persistence.NormalizeLimit(filter.Limit)

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Execution, 0, len(executions))

	for _, execution := range executions {
		if filter.WorkflowID != "" && execution.WorkflowID != filter.WorkflowID {
			continue
		}

		if filter.Status != nil && execution.Status != *filter.Status {
			continue
		}

		filtered = append(filtered, execution)
	}

	totalCount := int64(len(filtered))

	if filter.Offset >= len(filtered) {
		return &persistence.ExecutionListResult{
			Executions: make([]*models.Execution, 0),
			TotalCount: totalCount,
		}, nil
	}

	end := min(filter.Offset+limit, len(filtered))

	return &persistence.ExecutionListResult{
		Executions:  filtered[filter.Offset:end],
		TotalCount:  totalCount,
		HasNextPage: end < len(filtered),
	}, nil
}

// ListSince returns executions triggered at or after since, newest first.
func (er *ExecutionRepository) ListSince(_ context.Context, since time.Time) ([]*models.Execution, error) {
	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0, len(executions))

	for _, execution := range executions {
		if !execution.TriggeredAt.Before(since) {
			matched = append(matched, execution)
		}
	}

	return matched, nil
}

// ListInFlight returns pending and running executions.
func (er *ExecutionRepository) ListInFlight(_ context.Context) ([]*models.Execution, error) {
	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0)

	for _, execution := range executions {
		if !execution.IsTerminal() {
			matched = append(matched, execution)
		}
	}

	return matched, nil
}

func (er *ExecutionRepository) all() ([]*models.Execution, error) {
	executions, err := all[models.Execution](er.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	sort.SliceStable(executions, func(i, j int) bool {
		if executions[i].TriggeredAt.Equal(executions[j].TriggeredAt) {
			return executions[i].ID > executions[j].ID
		}

		return executions[i].TriggeredAt.After(executions[j].TriggeredAt)
	})

	return executions, nil
}
