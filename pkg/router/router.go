// Package router fans inbound events out to the event, webhook and condition
// triggers subscribed to their (source, type).
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/triggers"
	"github.com/xeipuuv/gojsonschema"
)

// Channel is the way an event reached the router.
type Channel string

const (
	ChannelEvent   Channel = "event"
	ChannelWebhook Channel = "webhook"
	ChannelBus     Channel = "bus"
)

// ErrEventSourceRequired is returned for events without a source or type.
var ErrEventSourceRequired = errors.New("event source and type are required")

// Event is an inbound event.
type Event struct {
	Source  string
	Type    string
	Payload map[string]any
	Channel Channel
}

// Dispatcher starts a run of a stored workflow.
type Dispatcher interface {
	Trigger(ctx context.Context, workflowID string, tc models.TriggerContext) (*engine.Run, error)
}

// Router matches inbound events against the trigger registry.
type Router struct {
	logger     *slog.Logger
	registry   *triggers.Registry
	dispatcher Dispatcher
	clock      clock.Clock
}

func New(logger *slog.Logger, registry *triggers.Registry, dispatcher Dispatcher, clk clock.Clock) *Router {
	if clk == nil {
		clk = clock.System{}
	}

	return &Router{
		logger:     logger.With("module", "router"),
		registry:   registry,
		dispatcher: dispatcher,
		clock:      clk,
	}
}

// Route dispatches every matching workflow and returns the started executions.
// A failed dispatch does not stop the others; failures are joined.
func (r *Router) Route(ctx context.Context, event Event) ([]*models.Execution, error) {
	event.Source = strings.TrimSpace(event.Source)
	event.Type = strings.TrimSpace(event.Type)

	if event.Source == "" || event.Type == "" {
		return nil, ErrEventSourceRequired
	}

	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	logger := r.logger.With("source", event.Source, "event_type", event.Type, "channel", event.Channel)
	firedAt := r.clock.Now()

	var (
		started = make([]*models.Execution, 0)
		errs    []error
	)

	for _, sub := range r.registry.Match(event.Source, event.Type) {
		trigger := sub.Trigger
		triggerLogger := logger.With("workflow_id", sub.WorkflowID, "trigger_id", trigger.ID)

		if !accepts(trigger, event) {
			continue
		}

		if problems := validatePayload(trigger.Schema, event.Payload); len(problems) > 0 {
			triggerLogger.InfoContext(ctx, "Event payload does not match trigger schema", "problems", problems)

			continue
		}

		if trigger.Condition != nil && !condition.Evaluate(*trigger.Condition, event.Payload) {
			triggerLogger.DebugContext(ctx, "Trigger condition not met")

			continue
		}

		run, err := r.dispatcher.Trigger(ctx, sub.WorkflowID, models.TriggerContext{
			TriggerID: trigger.ID,
			Kind:      trigger.Kind,
			Source:    event.Source,
			EventType: event.Type,
			Payload:   event.Payload,
			FiredAt:   firedAt,
		})
		if err != nil {
			if errors.Is(err, engine.ErrWorkflowNotActive) {
				triggerLogger.DebugContext(ctx, "Skipping inactive workflow")

				continue
			}

			triggerLogger.ErrorContext(ctx, "Failed to dispatch workflow", "error", err)
			errs = append(errs, fmt.Errorf("workflow %s: %w", sub.WorkflowID, err))

			continue
		}

		triggerLogger.InfoContext(ctx, "Dispatched workflow from event", "execution_id", run.ExecutionID)
		started = append(started, run.Execution())
	}

	return started, errors.Join(errs...)
}

// HandleInbound is the event bus handler for events.InboundEvent.
func (r *Router) HandleInbound(ctx context.Context, event any) error {
	inbound, ok := event.(*events.Inbound)
	if !ok {
		return fmt.Errorf("unexpected inbound event %T", event)
	}

	_, err := r.Route(ctx, Event{
		Source:  inbound.Source,
		Type:    inbound.EventType,
		Payload: inbound.Payload,
		Channel: ChannelBus,
	})

	return err
}

// accepts reports whether a trigger listens on the event's channel. Webhook
// triggers only fire from the webhook endpoint.
func accepts(trigger models.Trigger, event Event) bool {
	if trigger.Kind == models.TriggerKindWebhook {
		return event.Channel == ChannelWebhook
	}

	return true
}

// validatePayload returns the schema violations of payload. A trigger without
// a schema accepts any payload; an unusable schema rejects everything.
func validatePayload(schema map[string]any, payload map[string]any) []string {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return []string{err.Error()}
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return problems
}
