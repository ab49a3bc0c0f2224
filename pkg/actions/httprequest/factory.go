package httprequest

import (
	"context"

	"github.com/dukex/autoflow/pkg/protocol"
)

// ActionFactory creates HTTP request actions.
type ActionFactory struct{}

// NewActionFactory creates a new HTTP request ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new Action from the given configuration.
//
//nolint:ireturn // factories return the protocol interface
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

// ID returns the unique identifier for the action.
func (h *ActionFactory) ID() string {
	return "http_request"
}

// Name returns the name of the action.
func (h *ActionFactory) Name() string {
	return "HTTP Request"
}

// Description returns a brief description of the action.
func (h *ActionFactory) Description() string {
	return "Performs an HTTP request to a specified URL with optional headers and body."
}

// Retryable reports that transport and 5xx failures may be retried. Non-idempotent
// methods opt out per action unless configured as idempotent.
func (h *ActionFactory) Retryable() bool {
	return true
}

// Schema returns the JSON schema for configuring this action.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"description": "The URL to send the HTTP request to. Supports templating.",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/orders/{{.input.order_id}}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include in the request. Values support templating.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Request body content. Supports templating for dynamic JSON or text content.",
				"examples": []string{
					`{"order_id": "{{.input.order_id}}", "status": "paid"}`,
				},
			},
			"timeout": map[string]any{
				"type":        "string",
				"description": "Client timeout as a Go duration",
				"default":     "30s",
			},
			"idempotent": map[string]any{
				"type":        "boolean",
				"description": "Allow retries for POST and PATCH requests",
				"default":     false,
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}
