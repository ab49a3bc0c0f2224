package log

import (
	"context"

	"github.com/dukex/autoflow/pkg/protocol"
)

// ActionFactory is the factory for creating log actions.
type ActionFactory struct{}

// NewActionFactory creates a new instance of ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "log"
}

// Name returns the name of the action factory.
func (*ActionFactory) Name() string {
	return "Log"
}

// Description returns a brief description of the action.
func (*ActionFactory) Description() string {
	return "Logs a message at a specified level. Supports templating for dynamic content."
}

// Retryable reports that logging can always be repeated.
func (*ActionFactory) Retryable() bool {
	return true
}

// Create creates a new log action with the provided configuration.
//
//nolint:ireturn // factories return the protocol interface
func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports templating for dynamic content.",
				"examples": []string{
					"Workflow step completed successfully",
					"Processing order {{.input.order_id}}",
					"Request returned status {{.actions.fetch.status_code}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "warning", "error"},
			},
		},
	}
}
