package services

import (
	"context"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
)

// Activate makes a workflow eligible for triggers and manual runs.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.transition(ctx, "Activate", workflowID, models.WorkflowStatusActive)
}

// Pause stops a workflow from firing until it is activated again.
func (w *Workflow) Pause(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.transition(ctx, "Pause", workflowID, models.WorkflowStatusPaused)
}

// Archive retires a workflow for good.
func (w *Workflow) Archive(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.transition(ctx, "Archive", workflowID, models.WorkflowStatusArchived)
}

func (w *Workflow) transition(ctx context.Context, op, workflowID string, target models.WorkflowStatus) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch {
	case workflow.Status == target:
		return nil, &ServiceError{
			Op:      op,
			Code:    "ALREADY_IN_STATE",
			Message: fmt.Sprintf("workflow '%s' is already %s", workflowID, target),
			Err:     ErrWorkflowAlreadyInState,
		}
	case workflow.Status == models.WorkflowStatusArchived:
		return nil, &ServiceError{
			Op:      op,
			Code:    "WORKFLOW_ARCHIVED",
			Message: fmt.Sprintf("workflow '%s' is archived", workflowID),
			Err:     ErrWorkflowArchived,
		}
	case !workflow.CanTransitionTo(target):
		return nil, &ServiceError{
			Op:      op,
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("workflow '%s' cannot go from %s to %s", workflowID, workflow.Status, target),
			Err:     ErrInvalidTransition,
		}
	}

	if target == models.WorkflowStatusActive {
		if err := validateForActivation(op, workflow); err != nil {
			return nil, err
		}

		if err := w.validateWorkflow(ctx, op, workflow); err != nil {
			return nil, err
		}
	}

	workflow.Status = target
	workflow.UpdatedAt = w.clock.Now()

	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", workflowID, "status", target)

	return w.save(ctx, workflow, "update")
}
