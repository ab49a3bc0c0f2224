// Package protocol defines the contract action effects implement to plug into the engine.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
)

// Action is a configured effect ready to run.
type Action interface {
	Execute(ctx context.Context, run models.RunContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds actions of one type from their configuration.
type ActionFactory interface {
	ID() string
	Name() string
	Description() string

	// Retryable reports whether a failed invocation may be repeated safely.
	Retryable() bool

	// Schema is the JSON schema the configuration must satisfy.
	Schema() map[string]any

	Create(ctx context.Context, config map[string]any) (Action, error)
}
