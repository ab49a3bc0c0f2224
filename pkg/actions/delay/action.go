// Package delay provides an action that pauses the pipeline for a fixed duration.
package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

const maxDelay = time.Hour

// ErrInvalidDuration is returned for negative or oversized delays.
var ErrInvalidDuration = errors.New("invalid delay duration")

// ActionFactory creates delay actions.
type ActionFactory struct{}

// NewActionFactory creates a new delay ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "delay"
}

func (*ActionFactory) Name() string {
	return "Delay"
}

func (*ActionFactory) Description() string {
	return "Waits for a duration before the next action runs. Honours cancellation and timeouts."
}

func (*ActionFactory) Retryable() bool {
	return true
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"description": "Go duration string such as \"5s\", or milliseconds",
				"type":        []string{"string", "number"},
				"examples":    []any{"5s", "2m", 1500},
			},
		},
		"required": []string{"duration"},
	}
}

//nolint:ireturn // factories return the protocol interface
func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

// Action sleeps for Duration.
type Action struct {
	Duration time.Duration
}

// NewAction creates a delay action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	duration, err := actions.Duration(config, "duration", 0)
	if err != nil {
		return nil, err
	}

	if duration < 0 || duration > maxDelay {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}

	return &Action{Duration: duration}, nil
}

// Execute waits for the duration or until ctx ends.
func (a *Action) Execute(ctx context.Context, _ models.RunContext, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Delaying", "action_type", "delay", "duration", a.Duration)

	timer := time.NewTimer(a.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return map[string]any{"waited_ms": a.Duration.Milliseconds()}, nil
	}
}
