// Package transform provides a data transformation action based on Go templates.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

// ErrExpressionRequired is returned when no expression is configured.
var ErrExpressionRequired = errors.New("transform expression is required")

// Action renders an expression and exposes the decoded value as its output.
type Action struct {
	Expression string
}

// NewAction creates a transform action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	expression := actions.String(config, "expression", "")
	if expression == "" {
		return nil, ErrExpressionRequired
	}

	if _, err := template.Parse(expression); err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}

	return &Action{Expression: expression}, nil
}

// Execute evaluates the expression. Object results become the output itself,
// anything else is exposed under "result".
func (a *Action) Execute(ctx context.Context, run models.RunContext, logger *slog.Logger) (map[string]any, error) {
	result, err := template.RenderWithContext(a.Expression, run)
	if err != nil {
		return nil, actions.Permanent(fmt.Errorf("transformation failed: %w", err))
	}

	logger.DebugContext(ctx, "Transform completed", "action_type", "transform")

	if object, ok := result.(map[string]any); ok {
		return object, nil
	}

	return map[string]any{"result": result}, nil
}
