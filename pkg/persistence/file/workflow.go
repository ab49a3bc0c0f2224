package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	docs  collection
	locks *keyedMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return newWorkflowRepository(root, newKeyedMutex())
}

func newWorkflowRepository(root string, locks *keyedMutex) *WorkflowRepository {
	return &WorkflowRepository{
		docs:  collection{dir: filepath.Join(root, "workflows")},
		locks: locks,
	}
}

func workflowKey(id string) string {
	return "workflow:" + id
}

// List returns paginated and filtered workflows with in-memory operations.
func (wr *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	opts.Limit = persistence.NormalizeLimit(opts.Limit)

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, persistence.NewWorkflowError("List", "", fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy))
	}

	workflows, err := all[models.Workflow](wr.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		if opts.Category != "" && workflow.Category != opts.Category {
			continue
		}

		filtered = append(filtered, workflow)
	}

	sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &persistence.WorkflowListResult{
			Workflows:   make([]*models.Workflow, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	end := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.WorkflowListResult{
		Workflows:   filtered[opts.Offset:end],
		TotalCount:  totalCount,
		HasNextPage: end < len(filtered),
	}, nil
}

// sortWorkflows sorts workflows in-place based on the specified field and order.
func sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	sort.SliceStable(workflows, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = workflows[i].UpdatedAt.Before(workflows[j].UpdatedAt)
		case "name":
			less = workflows[i].Name < workflows[j].Name
		default:
			less = workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

// ListByStatus returns every workflow in status.
func (wr *WorkflowRepository) ListByStatus(_ context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	workflows, err := all[models.Workflow](wr.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	matched := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.Status == status {
			matched = append(matched, workflow)
		}
	}

	return matched, nil
}

// CountByStatus counts workflows per status.
func (wr *WorkflowRepository) CountByStatus(_ context.Context) (map[models.WorkflowStatus]int64, error) {
	workflows, err := all[models.Workflow](wr.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	counts := make(map[models.WorkflowStatus]int64)
	for _, workflow := range workflows {
		counts[workflow.Status]++
	}

	return counts, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := wr.docs.read(workflowID, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	if !found {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

// Save writes the workflow, keeping the stored run counters and creation time.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	unlock := wr.locks.Lock(workflowKey(workflow.ID))
	defer unlock()

	var stored models.Workflow

	found, err := wr.docs.read(workflow.ID, &stored)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if found {
		workflow.TotalRuns = stored.TotalRuns
		workflow.SuccessfulRuns = stored.SuccessfulRuns
		workflow.FailedRuns = stored.FailedRuns
		workflow.LastRunAt = stored.LastRunAt
		workflow.LastRunStatus = stored.LastRunStatus

		if !stored.CreatedAt.IsZero() {
			workflow.CreatedAt = stored.CreatedAt
		}
	}

	for _, action := range workflow.Actions {
		action.WorkflowID = workflow.ID
	}

	for _, trigger := range workflow.Triggers {
		trigger.WorkflowID = workflow.ID
	}

	if err := wr.docs.write(workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow by its ID. Its triggers and actions live in the
// same document and go with it.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	unlock := wr.locks.Lock(workflowKey(id))
	defer unlock()

	found, err := wr.docs.remove(id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if !found {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SetTriggerState updates the runtime state of one trigger.
func (wr *WorkflowRepository) SetTriggerState(_ context.Context, workflowID, triggerID string, state persistence.TriggerState) error {
	unlock := wr.locks.Lock(workflowKey(workflowID))
	defer unlock()

	var workflow models.Workflow

	found, err := wr.docs.read(workflowID, &workflow)
	if err != nil {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, err)
	}

	if !found {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, persistence.ErrWorkflowNotFound)
	}

	trigger := workflow.TriggerByID(triggerID)
	if trigger == nil {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, persistence.ErrTriggerNotFound)
	}

	trigger.IsActive = state.IsActive
	trigger.NextFireAt = state.NextFireAt
	trigger.LastFiredAt = state.LastFiredAt
	trigger.DeactivatedReason = state.DeactivatedReason

	if err := wr.docs.write(workflowID, &workflow); err != nil {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, err)
	}

	return nil
}

// recordRunLocked folds a terminal execution into the workflow counters and
// returns a function that restores the previous document. The caller holds
// the workflow lock. A deleted workflow is not an error: its history outlives it.
func (wr *WorkflowRepository) recordRunLocked(execution *models.Execution) (func() error, error) {
	var workflow models.Workflow

	found, err := wr.docs.read(execution.WorkflowID, &workflow)
	if err != nil {
		return nil, err
	}

	if !found {
		return func() error { return nil }, nil
	}

	previous := workflow

	at := execution.TriggeredAt
	if execution.CompletedAt != nil {
		at = *execution.CompletedAt
	}

	workflow.RecordRun(execution.Status, at)

	if err := wr.docs.write(workflow.ID, &workflow); err != nil {
		return nil, err
	}

	return func() error {
		return wr.docs.write(previous.ID, &previous)
	}, nil
}
