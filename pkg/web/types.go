// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/go-playground/validator/v10"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NewValidator returns the request validator with the custom "schedule" tag,
// which accepts cron expressions, descriptors, "@every" intervals and named
// frequencies.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		return schedule.Validate(fl.Field().String()) == nil
	})

	return validate
}

// WorkflowRequest is the body of POST /workflows and PUT /workflows/{id}.
type WorkflowRequest struct {
	Name          string                `json:"name"           validate:"required,min=3"`
	Description   string                `json:"description"`
	Category      string                `json:"category"`
	Status        models.WorkflowStatus `json:"status"         validate:"omitempty,oneof=draft active"`
	FailurePolicy models.FailurePolicy  `json:"failure_policy" validate:"omitempty,oneof=stop continue"`
	MaxConcurrent int                   `json:"max_concurrent" validate:"min=0"`
	Variables     map[string]any        `json:"variables"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
	Triggers      []TriggerRequest      `json:"triggers"       validate:"dive"`
	Actions       []ActionRequest       `json:"actions"        validate:"dive"`
}

// TriggerRequest describes one trigger. IsActive defaults to true.
type TriggerRequest struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Kind      models.TriggerKind   `json:"kind"       validate:"required,oneof=schedule event webhook manual condition"`
	Schedule  string               `json:"schedule"   validate:"omitempty,schedule"`
	Source    string               `json:"source"     validate:"required_if=Kind webhook"`
	EventType string               `json:"event_type" validate:"required_if=Kind webhook"`
	Condition *condition.Condition `json:"condition"  validate:"required_if=Kind condition"`
	Schema    map[string]any       `json:"schema"`
	IsActive  *bool                `json:"is_active"`
}

// ActionRequest describes one pipeline step.
type ActionRequest struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Type             string               `json:"type"              validate:"required"`
	Order            int                  `json:"order"             validate:"min=0"`
	Config           map[string]any       `json:"config"`
	ConditionEnabled bool                 `json:"condition_enabled"`
	Condition        *condition.Condition `json:"condition"         validate:"required_if=ConditionEnabled true"`
	TimeoutSeconds   int                  `json:"timeout_seconds"   validate:"min=0"`
	MaxAttempts      int                  `json:"max_attempts"      validate:"min=0"`
}

// ToModel converts the request into a workflow definition.
func (r WorkflowRequest) ToModel() *models.Workflow {
	workflow := &models.Workflow{
		Name:          r.Name,
		Description:   r.Description,
		Category:      r.Category,
		Status:        r.Status,
		FailurePolicy: r.FailurePolicy,
		MaxConcurrent: r.MaxConcurrent,
		Variables:     r.Variables,
		Metadata:      r.Metadata,
		Triggers:      make([]*models.Trigger, 0, len(r.Triggers)),
		Actions:       make([]*models.Action, 0, len(r.Actions)),
	}

	for _, trigger := range r.Triggers {
		workflow.Triggers = append(workflow.Triggers, &models.Trigger{
			ID:        trigger.ID,
			Name:      trigger.Name,
			Kind:      trigger.Kind,
			Schedule:  trigger.Schedule,
			Source:    trigger.Source,
			EventType: trigger.EventType,
			Condition: trigger.Condition,
			Schema:    trigger.Schema,
			IsActive:  trigger.IsActive == nil || *trigger.IsActive,
		})
	}

	for _, action := range r.Actions {
		workflow.Actions = append(workflow.Actions, &models.Action{
			ID:               action.ID,
			Name:             action.Name,
			Type:             action.Type,
			Order:            action.Order,
			Config:           action.Config,
			ConditionEnabled: action.ConditionEnabled,
			Condition:        action.Condition,
			TimeoutSeconds:   action.TimeoutSeconds,
			MaxAttempts:      action.MaxAttempts,
		})
	}

	return workflow
}

// ExecuteRequest is the optional body of POST /workflows/{id}/execute.
type ExecuteRequest struct {
	Input map[string]any `json:"input"`
	Wait  bool           `json:"wait"`
}

// ScheduledTaskRequest is the body of scheduled task create and update.
type ScheduledTaskRequest struct {
	Name         string              `json:"name"          validate:"required,min=3"`
	Description  string              `json:"description"`
	TaskType     string              `json:"task_type"     validate:"required"`
	Config       map[string]any      `json:"config"`
	ScheduleType models.ScheduleType `json:"schedule_type" validate:"required,oneof=once recurring"`
	RunAt        *time.Time          `json:"run_at"        validate:"required_if=ScheduleType once"`
	Schedule     string              `json:"schedule"      validate:"omitempty,schedule"`
	IsActive     *bool               `json:"is_active"`
}

// ToModel converts the request into a scheduled task. IsActive defaults to true.
func (r ScheduledTaskRequest) ToModel() *models.ScheduledTask {
	return &models.ScheduledTask{
		Name:         r.Name,
		Description:  r.Description,
		TaskType:     r.TaskType,
		Config:       r.Config,
		ScheduleType: r.ScheduleType,
		RunAt:        r.RunAt,
		Schedule:     r.Schedule,
		IsActive:     r.IsActive == nil || *r.IsActive,
	}
}

// EventRequest is the body of POST /events.
type EventRequest struct {
	Source  string         `json:"source"  validate:"required"`
	Type    string         `json:"type"    validate:"required"`
	Payload map[string]any `json:"payload"`
}

// DispatchResponse lists the executions an inbound event started.
type DispatchResponse struct {
	Executions []*models.Execution `json:"executions"`
	Matched    int                 `json:"matched"`

	// Error reports dispatches that failed while others succeeded.
	Error string `json:"error,omitempty"`
}

// Page is 1-based pagination resolved to a limit and offset.
type Page struct {
	Page     int
	PageSize int
}

// Limit returns the page size clamped to the allowed range.
func (p Page) Limit() int {
	switch {
	case p.PageSize <= 0:
		return defaultPageSize
	case p.PageSize > maxPageSize:
		return maxPageSize
	default:
		return p.PageSize
	}
}

// Offset returns the number of records before the page.
func (p Page) Offset() int {
	if p.Page <= 1 {
		return 0
	}

	return (p.Page - 1) * p.Limit()
}
