// Package log provides an action that writes a templated message to the engine log.
package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

// ErrInvalidLevel is returned for an unknown log level.
var ErrInvalidLevel = errors.New("invalid log level")

// Action logs a message.
type Action struct {
	Message string
	Level   slog.Level
}

// NewAction creates a log action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	message, _ := config["message"].(string)
	levelName, _ := config["level"].(string)

	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}

	if _, err := template.Parse(message); err != nil {
		return nil, fmt.Errorf("invalid message template: %w", err)
	}

	return &Action{Message: message, Level: level}, nil
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, name)
	}
}

// Execute renders the message and logs it.
func (a *Action) Execute(ctx context.Context, run models.RunContext, logger *slog.Logger) (map[string]any, error) {
	message, err := template.RenderStringWithContext(a.Message, run)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	logger.With("action_type", "log").Log(ctx, a.Level, message)

	return map[string]any{
		"message": message,
		"level":   strings.ToLower(a.Level.String()),
	}, nil
}
