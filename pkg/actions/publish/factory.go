package publish

import (
	"context"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/protocol"
)

// ActionFactory creates publish_event actions bound to an event publisher.
type ActionFactory struct {
	bus eventbus.EventBus
}

// NewActionFactory creates a factory publishing through bus.
func NewActionFactory(bus eventbus.EventBus) *ActionFactory {
	return &ActionFactory{bus: bus}
}

// ID returns the unique identifier for the action.
func (f *ActionFactory) ID() string {
	return "publish_event"
}

// Name returns the name of the action.
func (f *ActionFactory) Name() string {
	return "Publish Event"
}

// Description returns a brief description of the action.
func (f *ActionFactory) Description() string {
	return "Publishes a named custom event with a templated payload on the event bus."
}

// Retryable reports that publishing may duplicate events, so it is not retried.
func (f *ActionFactory) Retryable() bool {
	return false
}

// Create creates a new publish action.
//
//nolint:ireturn // factories return the protocol interface
func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(f.bus, config)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"event": map[string]any{
				"type":        "string",
				"description": "Name of the custom event",
				"examples":    []string{"invoice.overdue", "report.ready"},
			},
			"payload": map[string]any{
				"type":        "object",
				"description": "Payload fields. String values support templating.",
			},
		},
		"required": []string{"event"},
	}
}
