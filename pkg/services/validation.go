package services

import (
	"context"
	"strings"

	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/registry"
)

// validateWorkflow checks a workflow definition before it is persisted, so a
// malformed schedule or condition never reaches the scheduler.
func (d *deps) validateWorkflow(ctx context.Context, op string, workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	var p problems

	if strings.TrimSpace(workflow.Name) == "" {
		p.add(ErrWorkflowNameRequired, "name is required")
	}

	if workflow.FailurePolicy != "" &&
		workflow.FailurePolicy != models.FailurePolicyStop &&
		workflow.FailurePolicy != models.FailurePolicyContinue {
		p.add(ErrInvalidRequest, "failure_policy must be stop or continue, got '%s'", workflow.FailurePolicy)
	}

	if workflow.MaxConcurrent < 0 {
		p.add(ErrInvalidRequest, "max_concurrent cannot be negative")
	}

	d.validateActions(ctx, &p, workflow.Actions)
	d.validateTriggers(&p, workflow.Triggers)

	return p.err(op, "INVALID_WORKFLOW")
}

func (d *deps) validateActions(ctx context.Context, p *problems, actions []*models.Action) {
	orders := make(map[int]string, len(actions))
	ids := make(map[string]struct{}, len(actions))

	for i, action := range actions {
		if action == nil {
			p.add(ErrInvalidAction, "actions[%d] is empty", i)

			continue
		}

		if _, dup := ids[action.ID]; dup && action.ID != "" {
			p.add(ErrInvalidAction, "actions[%d]: duplicate id '%s'", i, action.ID)
		}

		ids[action.ID] = struct{}{}

		if other, dup := orders[action.Order]; dup {
			p.add(ErrDuplicateActionOrder, "actions[%d]: order %d already used by '%s'", i, action.Order, other)
		}

		orders[action.Order] = action.ID

		if action.TimeoutSeconds < 0 || action.MaxAttempts < 0 {
			p.add(ErrInvalidAction, "actions[%d]: timeout_seconds and max_attempts cannot be negative", i)
		}

		if action.ConditionEnabled {
			if action.Condition == nil {
				p.add(ErrInvalidCondition, "actions[%d]: condition_enabled requires a condition", i)
			} else if err := condition.Validate(*action.Condition); err != nil {
				p.add(ErrInvalidCondition, "actions[%d]: %v", i, err)
			}
		}

		if strings.TrimSpace(action.Type) == "" {
			p.add(ErrInvalidAction, "actions[%d]: type is required", i)

			continue
		}

		if d.actions != nil {
			if err := d.actions.ValidateConfig(ctx, action.Type, action.Config); err != nil {
				p.add(ErrInvalidAction, "actions[%d]: %v", i, err)
			}
		}
	}
}

func (d *deps) validateTriggers(p *problems, triggers []*models.Trigger) {
	for i, trigger := range triggers {
		if trigger == nil {
			p.add(ErrInvalidTrigger, "triggers[%d] is empty", i)

			continue
		}

		if !trigger.Kind.Valid() {
			p.add(ErrInvalidTrigger, "triggers[%d]: unknown kind '%s'", i, trigger.Kind)

			continue
		}

		if trigger.Kind == models.TriggerKindSchedule {
			if err := d.evaluator.Validate(trigger.Schedule); err != nil {
				p.add(ErrInvalidSchedule, "triggers[%d]: %v", i, err)
			}
		}

		if trigger.Kind == models.TriggerKindWebhook && (trigger.Source == "" || trigger.EventType == "") {
			p.add(ErrInvalidTrigger, "triggers[%d]: webhook triggers require source and event_type", i)
		}

		if len(trigger.Schema) > 0 {
			if _, err := registry.ValidateSchema(trigger.Schema, map[string]any{}); err != nil {
				p.add(ErrInvalidTrigger, "triggers[%d]: unusable schema: %v", i, err)
			}
		}

		if trigger.Kind != models.TriggerKindCondition {
			continue
		}

		if trigger.Condition == nil {
			p.add(ErrInvalidCondition, "triggers[%d]: condition triggers require a condition", i)

			continue
		}

		if err := condition.Validate(*trigger.Condition); err != nil {
			p.add(ErrInvalidCondition, "triggers[%d]: %v", i, err)
		}

		if len(trigger.Schema) == 0 {
			p.add(ErrInvalidCondition, "triggers[%d]: condition triggers require an event schema declaring '%s'", i, trigger.Condition.Field)

			continue
		}

		if !condition.FieldInSchema(trigger.Condition.Field, trigger.Schema) {
			p.add(ErrInvalidCondition, "triggers[%d]: field '%s' is not declared by the event schema", i, trigger.Condition.Field)
		}
	}
}

// validateForActivation ensures a workflow is ready to run.
func validateForActivation(op string, workflow *models.Workflow) error {
	if len(workflow.Actions) == 0 {
		return NewValidationError(op, "ACTIONS_REQUIRED", ErrActionsRequired.Error(), ErrActionsRequired)
	}

	return nil
}
