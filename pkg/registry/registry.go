// Package registry keeps the action effects the engine can dispatch to, keyed by type.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrActionTypeNotRegistered is returned for an unknown action type.
	ErrActionTypeNotRegistered = errors.New("action type not registered")

	// ErrInvalidActionConfig is returned when a configuration fails its schema or factory checks.
	ErrInvalidActionConfig = errors.New("invalid action configuration")
)

// ConfigError describes why an action configuration was rejected.
type ConfigError struct {
	ActionType string
	Problems   []string
	Err        error
}

func (e *ConfigError) Error() string {
	if len(e.Problems) > 0 {
		return fmt.Sprintf("invalid configuration for action type '%s': %s", e.ActionType, strings.Join(e.Problems, "; "))
	}

	return fmt.Sprintf("invalid configuration for action type '%s': %v", e.ActionType, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidActionConfig || errors.Is(e.Err, target)
}

// ActionType describes a registered action for capability discovery.
type ActionType struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Retryable   bool           `json:"retryable"`
	Schema      map[string]any `json:"schema"`
}

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

// RegisterAction adds or replaces the factory for its type.
func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory

	r.logger.Debug("Registered action", "action_type", actionFactory.ID())
}

// Factory returns the factory registered for actionType.
//
//nolint:ireturn // factories are plug-ins
func (r *Registry) Factory(actionType string) (protocol.ActionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrActionTypeNotRegistered, actionType)
	}

	return factory, nil
}

// CreateAction builds an action of actionType from config.
//
//nolint:ireturn // actions are plug-ins
func (r *Registry) CreateAction(ctx context.Context, actionType string, config map[string]any) (protocol.Action, error) {
	factory, err := r.Factory(actionType)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}

	return factory.Create(ctx, config)
}

// ValidateConfig checks config against the factory's JSON schema and then
// builds the action once so factory-level checks run at definition time.
func (r *Registry) ValidateConfig(ctx context.Context, actionType string, config map[string]any) error {
	factory, err := r.Factory(actionType)
	if err != nil {
		return err
	}

	if config == nil {
		config = map[string]any{}
	}

	if schema := factory.Schema(); len(schema) > 0 {
		problems, err := ValidateSchema(schema, config)
		if err != nil {
			return &ConfigError{ActionType: actionType, Err: err}
		}

		if len(problems) > 0 {
			return &ConfigError{ActionType: actionType, Problems: problems, Err: ErrInvalidActionConfig}
		}
	}

	if _, err := factory.Create(ctx, config); err != nil {
		return &ConfigError{ActionType: actionType, Err: err}
	}

	return nil
}

// ActionTypes lists the registered actions sorted by id.
func (r *Registry) ActionTypes() []ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]ActionType, 0, len(r.actionFactories))
	for _, factory := range r.actionFactories {
		types = append(types, ActionType{
			ID:          factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Retryable:   factory.Retryable(),
			Schema:      factory.Schema(),
		})
	}

	slices.SortFunc(types, func(a, b ActionType) int {
		return strings.Compare(a.ID, b.ID)
	})

	return types
}

// HealthCheck reports whether any action is available.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.actionFactories) == 0 {
		return "No actions registered", false
	}

	return fmt.Sprintf("%d actions registered", len(r.actionFactories)), true
}

// ValidateSchema validates document against a JSON schema and returns the
// human readable problems. The error is set only when the schema itself is unusable.
func ValidateSchema(schema map[string]any, document any) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate against schema: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return problems, nil
}
