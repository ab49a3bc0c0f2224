package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/templates"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrCatalogUnavailable is returned by template operations without a catalog.
	ErrCatalogUnavailable = errors.New("template catalog not configured")
)

type Workflow struct {
	deps
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, opts ...Option) *Workflow {
	return &Workflow{deps: newDeps(persistence, opts)}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int
	Offset int

	// Filtering
	Status   *models.WorkflowStatus
	Category string

	// Sorting
	SortBy    string
	SortOrder string
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, err
	}

	result, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		Status:    req.Status,
		Category:  req.Category,
		Limit:     req.Limit,
		Offset:    req.Offset,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidSortField) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	req.Limit = persistence.NormalizeLimit(req.Limit)

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil && !req.Status.Valid() {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status '%s'", *req.Status),
			ErrInvalidStatus,
		)
	}

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create validates and stores a new workflow. Only draft and active are valid
// initial states; an active workflow is scheduled immediately.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if workflow.Status != models.WorkflowStatusDraft && workflow.Status != models.WorkflowStatusActive {
		return nil, NewValidationError("Create", "INVALID_STATUS",
			fmt.Sprintf("a new workflow must be draft or active, got '%s'", workflow.Status), ErrInvalidStatus)
	}

	now := w.clock.Now()
	workflow.ID = w.newID()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.TotalRuns, workflow.SuccessfulRuns, workflow.FailedRuns = 0, 0, 0
	workflow.LastRunAt, workflow.LastRunStatus = nil, ""

	w.assignChildIDs(workflow, nil)

	if err := w.validateWorkflow(ctx, "Create", workflow); err != nil {
		return nil, err
	}

	if workflow.IsActive() {
		if err := validateForActivation("Create", workflow); err != nil {
			return nil, err
		}
	}

	return w.save(ctx, workflow, "create")
}

// Update fully replaces the definition of a workflow. Status, run counters and
// created_at are owned by the service and kept; triggers whose id and
// schedule are unchanged keep their runtime state.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.WorkflowStatusArchived {
		return nil, &ServiceError{Op: "Update", Code: "WORKFLOW_ARCHIVED", Message: "archived workflows cannot be modified", Err: ErrWorkflowArchived}
	}

	workflow.ID = workflowID
	workflow.Status = existing.Status
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = w.clock.Now()
	workflow.TemplateID = existing.TemplateID
	workflow.TotalRuns = existing.TotalRuns
	workflow.SuccessfulRuns = existing.SuccessfulRuns
	workflow.FailedRuns = existing.FailedRuns
	workflow.LastRunAt = existing.LastRunAt
	workflow.LastRunStatus = existing.LastRunStatus

	w.assignChildIDs(workflow, existing)

	if err := w.validateWorkflow(ctx, "Update", workflow); err != nil {
		return nil, err
	}

	if workflow.IsActive() {
		if err := validateForActivation("Update", workflow); err != nil {
			return nil, err
		}
	}

	return w.save(ctx, workflow, "update")
}

// assignChildIDs gives new triggers and actions ids and carries the runtime
// state of unchanged schedule triggers over from existing.
func (w *Workflow) assignChildIDs(workflow *models.Workflow, existing *models.Workflow) {
	for _, trigger := range workflow.Triggers {
		if trigger == nil {
			continue
		}

		if trigger.ID == "" {
			trigger.ID = w.newID()
		}

		trigger.WorkflowID = workflow.ID
		trigger.NextFireAt, trigger.LastFiredAt, trigger.DeactivatedReason = nil, nil, ""

		if existing == nil {
			continue
		}

		if previous := existing.TriggerByID(trigger.ID); previous != nil {
			trigger.LastFiredAt = previous.LastFiredAt

			if previous.Kind == trigger.Kind && previous.Schedule == trigger.Schedule {
				trigger.NextFireAt = previous.NextFireAt
			}
		}
	}

	for _, action := range workflow.Actions {
		if action == nil {
			continue
		}

		if action.ID == "" {
			action.ID = w.newID()
		}

		action.WorkflowID = workflow.ID
	}
}

func (w *Workflow) save(ctx context.Context, workflow *models.Workflow, verb string) (*models.Workflow, error) {
	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to %s workflow: %w", verb, err)
	}

	w.syncTriggers(ctx, workflow)

	return w.FetchByID(ctx, workflow.ID)
}

// Delete removes a workflow with its triggers and actions. Its executions are kept.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return err
	}

	if err := w.persistence.WorkflowRepository().Delete(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if w.scheduler != nil {
		w.scheduler.Remove(workflowID)
	}

	return nil
}

// CreateFromTemplate clones a template into a new draft workflow.
func (w *Workflow) CreateFromTemplate(ctx context.Context, templateID, name string) (*models.Workflow, error) {
	if w.catalog == nil {
		return nil, ErrCatalogUnavailable
	}

	template, err := w.catalog.Get(templateID)
	if err != nil {
		return nil, err
	}

	workflow := templates.Instantiate(template, strings.TrimSpace(name), w.newID, w.clock.Now())

	if err := w.validateWorkflow(ctx, "CreateFromTemplate", workflow); err != nil {
		return nil, err
	}

	return w.save(ctx, workflow, "create")
}
