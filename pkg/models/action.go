package models

import "github.com/dukex/autoflow/pkg/condition"

// Action is one step of a workflow pipeline. Type selects a registered effect.
type Action struct {
	ID               string               `json:"id"`
	WorkflowID       string               `json:"workflow_id"`
	Name             string               `json:"name,omitempty"`
	Type             string               `json:"type"                      validate:"required"`
	Order            int                  `json:"order"                     validate:"min=0"`
	Config           map[string]any       `json:"config"`
	ConditionEnabled bool                 `json:"condition_enabled"`
	Condition        *condition.Condition `json:"condition,omitempty"`
	TimeoutSeconds   int                  `json:"timeout_seconds,omitempty" validate:"min=0"`
	MaxAttempts      int                  `json:"max_attempts,omitempty"    validate:"min=0"`
}

// Label names the action in logs and results.
func (a *Action) Label() string {
	if a.Name != "" {
		return a.Name
	}

	return a.Type
}
