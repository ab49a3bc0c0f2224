// Package actions holds helpers shared by the built-in action effects.
package actions

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the engine records it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps was marked permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}

// String reads a string config value, falling back when absent.
func String(config map[string]any, key, fallback string) string {
	value, ok := config[key].(string)
	if !ok || value == "" {
		return fallback
	}

	return value
}

// Bool reads a boolean config value.
func Bool(config map[string]any, key string, fallback bool) bool {
	switch value := config[key].(type) {
	case bool:
		return value
	case string:
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}

	return fallback
}

// Int reads an integer config value that may arrive as a JSON number or a string.
func Int(config map[string]any, key string, fallback int) (int, error) {
	switch value := config[key].(type) {
	case nil:
		return fallback, nil
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("'%s' must be an integer: %w", key, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("'%s' must be an integer, got %T", key, value)
	}
}

// Duration reads a duration given as a Go duration string or as milliseconds.
func Duration(config map[string]any, key string, fallback time.Duration) (time.Duration, error) {
	switch value := config[key].(type) {
	case nil:
		return fallback, nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("'%s' must be a duration: %w", key, err)
		}

		return parsed, nil
	default:
		ms, err := Int(config, key, 0)
		if err != nil {
			return 0, err
		}

		return time.Duration(ms) * time.Millisecond, nil
	}
}

// StringMap reads an object of string values.
func StringMap(config map[string]any, key string) map[string]string {
	out := make(map[string]string)

	switch value := config[key].(type) {
	case map[string]any:
		for k, v := range value {
			if s, ok := v.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprint(v)
			}
		}
	case map[string]string:
		for k, v := range value {
			out[k] = v
		}
	}

	return out
}
