package transform

import (
	"context"

	"github.com/dukex/autoflow/pkg/protocol"
)

// ActionFactory is the factory for creating Transform actions.
type ActionFactory struct{}

// NewActionFactory creates a new instance of ActionFactory for the Transform action.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new Action instance based on the provided configuration.
//
//nolint:ireturn // factories return the protocol interface
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

// ID returns the unique identifier for the Transform action factory.
func (h *ActionFactory) ID() string {
	return "transform"
}

// Name returns the name of the Transform action factory.
func (h *ActionFactory) Name() string {
	return "Transform"
}

// Description returns a brief description of the Transform action.
func (h *ActionFactory) Description() string {
	return "Transforms run data using a Go template expression."
}

// Retryable reports that transforms are pure.
func (h *ActionFactory) Retryable() bool {
	return true
}

// Schema returns the JSON schema for the Transform action configuration.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Go template expression evaluated against the run context. JSON output is decoded.",
				"examples": []string{
					"{{.input.name}}",
					"{\"fullName\": \"{{.input.first}} {{.input.last}}\", \"vip\": {{gt .input.total 1000.0}}}",
					"{{len .actions.fetch.body.items}}",
				},
			},
		},
		"required": []string{"expression"},
	}
}
