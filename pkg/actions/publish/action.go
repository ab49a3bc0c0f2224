// Package publish provides an action that emits custom events on the event bus.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

var (
	// ErrEventNameRequired is returned when no event name is configured.
	ErrEventNameRequired = errors.New("event name is required")
	// ErrNoEventBus is returned when the action was built without a bus.
	ErrNoEventBus = errors.New("event bus not configured")
)

// Action publishes a custom event.
type Action struct {
	bus     eventbus.EventBus
	Event   string
	Payload map[string]any
}

// NewAction creates a publish action from configuration.
func NewAction(bus eventbus.EventBus, config map[string]any) (*Action, error) {
	if bus == nil {
		return nil, ErrNoEventBus
	}

	name := actions.String(config, "event", "")
	if name == "" {
		return nil, ErrEventNameRequired
	}

	payload, _ := config["payload"].(map[string]any)

	return &Action{bus: bus, Event: name, Payload: payload}, nil
}

// Execute renders the payload and publishes it keyed by workflow id.
func (a *Action) Execute(ctx context.Context, run models.RunContext, logger *slog.Logger) (map[string]any, error) {
	payload := make(map[string]any, len(a.Payload))

	for key, value := range a.Payload {
		text, ok := value.(string)
		if !ok {
			payload[key] = value

			continue
		}

		rendered, err := template.RenderWithContext(text, run)
		if err != nil {
			return nil, actions.Permanent(fmt.Errorf("failed to render payload field '%s': %w", key, err))
		}

		payload[key] = rendered
	}

	event := events.Custom{
		BaseEvent:   events.NewBaseEvent(a.bus.GenerateID(), events.CustomEvent, run.WorkflowID, time.Now().UTC()),
		Name:        a.Event,
		ExecutionID: run.ExecutionID,
		Payload:     payload,
	}

	if err := a.bus.Publish(ctx, run.WorkflowID, event); err != nil {
		return nil, fmt.Errorf("failed to publish event '%s': %w", a.Event, err)
	}

	logger.InfoContext(ctx, "Published custom event", "action_type", "publish_event", "event", a.Event)

	return map[string]any{"event_id": event.ID, "event": a.Event}, nil
}
