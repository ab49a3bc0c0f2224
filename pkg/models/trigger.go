package models

import (
	"slices"
	"time"

	"github.com/dukex/autoflow/pkg/condition"
)

// TriggerKind identifies how a trigger fires.
type TriggerKind string

const (
	TriggerKindSchedule  TriggerKind = "schedule"
	TriggerKindEvent     TriggerKind = "event"
	TriggerKindWebhook   TriggerKind = "webhook"
	TriggerKindManual    TriggerKind = "manual"
	TriggerKindCondition TriggerKind = "condition"
)

// TriggerKinds lists every supported trigger kind.
func TriggerKinds() []TriggerKind {
	return []TriggerKind{
		TriggerKindSchedule,
		TriggerKindEvent,
		TriggerKindWebhook,
		TriggerKindManual,
		TriggerKindCondition,
	}
}

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	return slices.Contains(TriggerKinds(), k)
}

// Trigger is a condition under which a workflow's pipeline runs.
type Trigger struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflow_id"`
	Name       string      `json:"name,omitempty"`
	Kind       TriggerKind `json:"kind"                   validate:"required,oneof=schedule event webhook manual condition"`

	// Schedule holds a cron expression, descriptor, "@every" interval or named frequency.
	Schedule string `json:"schedule,omitempty"`

	// Source and EventType select inbound events for event, webhook and condition triggers.
	Source    string `json:"source,omitempty"`
	EventType string `json:"event_type,omitempty"`

	Condition *condition.Condition `json:"condition,omitempty"`

	// Schema is the JSON schema inbound payloads are expected to satisfy.
	Schema map[string]any `json:"schema,omitempty"`

	IsActive          bool       `json:"is_active"`
	NextFireAt        *time.Time `json:"next_fire_at,omitempty"`
	LastFiredAt       *time.Time `json:"last_fired_at,omitempty"`
	DeactivatedReason string     `json:"deactivated_reason,omitempty"`
}

// Wildcard matches any source or event type.
const Wildcard = "*"

// EventKey is the (source, type) tuple an inbound-event trigger subscribes to.
func (t *Trigger) EventKey() string {
	return EventKey(t.Source, t.EventType)
}

// EventKey builds the index key for a source and event type, treating blanks as wildcards.
func EventKey(source, eventType string) string {
	if source == "" {
		source = Wildcard
	}

	if eventType == "" {
		eventType = Wildcard
	}

	return source + "/" + eventType
}

// IsInbound reports whether the trigger listens for pushed events.
func (t *Trigger) IsInbound() bool {
	switch t.Kind {
	case TriggerKindEvent, TriggerKindWebhook, TriggerKindCondition:
		return true
	default:
		return false
	}
}

// TriggeredByManual marks executions started without a trigger.
const TriggeredByManual = "manual"

// TriggerContext carries what fired a run into the engine.
type TriggerContext struct {
	TriggerID string         `json:"trigger_id,omitempty"`
	Kind      TriggerKind    `json:"kind"`
	Source    string         `json:"source,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	FiredAt   time.Time      `json:"fired_at"`
}

// TriggeredBy is the trigger id, or "manual" when none fired the run.
func (tc TriggerContext) TriggeredBy() string {
	if tc.TriggerID == "" {
		return TriggeredByManual
	}

	return tc.TriggerID
}

// ManualTrigger builds the context for an operator-initiated run.
func ManualTrigger(input map[string]any, at time.Time) TriggerContext {
	return TriggerContext{
		Kind:    TriggerKindManual,
		Payload: input,
		FiredAt: at,
	}
}
