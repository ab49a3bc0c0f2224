package models

import "maps"

// RunContext is the accumulated state an action sees: what fired the run,
// workflow variables, and the outputs of the actions that already ran.
type RunContext struct {
	ExecutionID  string
	WorkflowID   string
	WorkflowName string
	Trigger      TriggerContext
	Variables    map[string]any
	Outputs      map[string]any
	Attempt      int
}

// NewRunContext seeds a run context for an execution.
func NewRunContext(execution *Execution, workflow *Workflow, tc TriggerContext) RunContext {
	return RunContext{
		ExecutionID:  execution.ID,
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		Trigger:      tc,
		Variables:    maps.Clone(workflow.Variables),
		Outputs:      make(map[string]any),
	}
}

// Record stores an action output under its id and, when set, its name.
func (rc *RunContext) Record(action *Action, output map[string]any) {
	if rc.Outputs == nil {
		rc.Outputs = make(map[string]any)
	}

	rc.Outputs[action.ID] = output

	if action.Name != "" {
		rc.Outputs[action.Name] = output
	}
}

// Data renders the context as the nested map that templates and action
// conditions are evaluated against.
func (rc RunContext) Data() map[string]any {
	trigger := map[string]any{
		"id":         rc.Trigger.TriggerID,
		"kind":       string(rc.Trigger.Kind),
		"source":     rc.Trigger.Source,
		"event_type": rc.Trigger.EventType,
		"payload":    rc.Trigger.Payload,
		"fired_at":   rc.Trigger.FiredAt,
	}

	return map[string]any{
		"trigger":   trigger,
		"input":     rc.Trigger.Payload,
		"variables": rc.Variables,
		"actions":   rc.Outputs,
		"execution": map[string]any{
			"id":            rc.ExecutionID,
			"workflow_id":   rc.WorkflowID,
			"workflow_name": rc.WorkflowName,
			"attempt":       rc.Attempt,
		},
	}
}
