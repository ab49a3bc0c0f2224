// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

type EventType string

// Topics.
const (
	Topic        = "autoflow.events"  // Outbound lifecycle events
	InboundTopic = "autoflow.inbound" // Events routed to event, webhook and condition triggers
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowTriggeredEvent EventType = "workflow.triggered"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	TaskFiredEvent EventType = "task.fired"

	TriggerDeactivatedEvent EventType = "trigger.deactivated"

	// CustomEvent is published by the publish_event action.
	CustomEvent EventType = "custom"

	// InboundEvent carries an external event to the router.
	InboundEvent EventType = "inbound"
)

// TopicFor returns the topic an event type travels on.
func TopicFor(eventType EventType) string {
	if eventType == InboundEvent {
		return InboundTopic
	}

	return Topic
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(id string, eventType EventType, workflowID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  at,
		WorkflowID: workflowID,
	}
}

type WorkflowTriggered struct {
	BaseEvent

	TriggerID   string             `json:"trigger_id"`
	TriggerKind models.TriggerKind `json:"trigger_kind"`
	ExecutionID string             `json:"execution_id"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	TriggeredBy string `json:"triggered_by"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionFinished reports a terminal execution; its type follows the status.
type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	DurationMs  int64                  `json:"duration_ms"`
	Error       string                 `json:"error,omitempty"`
}

func (e ExecutionFinished) GetType() EventType {
	switch e.Status {
	case models.ExecutionStatusCompleted:
		return ExecutionCompletedEvent
	case models.ExecutionStatusCancelled:
		return ExecutionCancelledEvent
	default:
		return ExecutionFailedEvent
	}
}

type TaskFired struct {
	BaseEvent

	TaskID   string               `json:"task_id"`
	TaskType string               `json:"task_type"`
	Status   models.TaskRunStatus `json:"status"`
	Error    string               `json:"error,omitempty"`
}

func (t TaskFired) GetType() EventType {
	return TaskFiredEvent
}

type TriggerDeactivated struct {
	BaseEvent

	TriggerID string `json:"trigger_id"`
	Reason    string `json:"reason"`
}

func (t TriggerDeactivated) GetType() EventType {
	return TriggerDeactivatedEvent
}

type Custom struct {
	BaseEvent

	Name        string         `json:"name"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (c Custom) GetType() EventType {
	return CustomEvent
}

// Inbound is an external event addressed to triggers by source and type.
type Inbound struct {
	BaseEvent

	Source    string         `json:"source"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

func (i Inbound) GetType() EventType {
	return InboundEvent
}

// Decoder returns an empty value to decode a message of eventType into.
func Decoder(eventType EventType) (any, bool) {
	switch eventType {
	case WorkflowTriggeredEvent:
		return &WorkflowTriggered{}, true
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionCompletedEvent, ExecutionFailedEvent, ExecutionCancelledEvent:
		return &ExecutionFinished{}, true
	case TaskFiredEvent:
		return &TaskFired{}, true
	case TriggerDeactivatedEvent:
		return &TriggerDeactivated{}, true
	case CustomEvent:
		return &Custom{}, true
	case InboundEvent:
		return &Inbound{}, true
	default:
		return nil, false
	}
}
