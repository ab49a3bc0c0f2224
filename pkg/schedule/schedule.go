// Package schedule evaluates cron expressions, explicit intervals and named
// frequencies into fire instants.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Never is the explicitly disabled schedule.
const Never = "@never"

const minInterval = time.Second

// Schedule computes the next fire instant strictly after a reference instant.
// A zero result means the schedule has no future fire time.
type Schedule interface {
	Next(after time.Time) time.Time
}

type disabled struct{}

func (disabled) Next(time.Time) time.Time {
	return time.Time{}
}

// Evaluator parses schedule expressions, interpreting cron fields in Location
// unless the expression carries its own CRON_TZ= prefix.
type Evaluator struct {
	Location *time.Location
	parser   cron.Parser
}

// NewEvaluator creates an evaluator. A nil location means UTC.
func NewEvaluator(location *time.Location) *Evaluator {
	if location == nil {
		location = time.UTC
	}

	return &Evaluator{
		Location: location,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

var defaultEvaluator = NewEvaluator(time.UTC)

// Parse turns expr into a Schedule. Every error is an *InvalidScheduleError.
func (e *Evaluator) Parse(expr string) (Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, invalid(expr, "expression is empty", nil)
	}

	if strings.EqualFold(trimmed, Never) {
		return disabled{}, nil
	}

	if isFrequency(trimmed) {
		freq, err := ParseFrequency(trimmed)
		if err != nil {
			return nil, err
		}

		trimmed = freq.Cron()
	}

	if lower := strings.ToLower(trimmed); strings.HasPrefix(lower, "@every") {
		interval, err := time.ParseDuration(strings.TrimSpace(trimmed[len("@every"):]))
		if err != nil {
			return nil, invalid(expr, "malformed interval", err)
		}

		if interval < minInterval {
			return nil, invalid(expr, "interval must be at least 1s", nil)
		}

		return cron.Every(interval), nil
	}

	sched, err := e.parser.Parse(trimmed)
	if err != nil {
		return nil, invalid(expr, "malformed cron expression", err)
	}

	explicitZone := strings.HasPrefix(trimmed, "CRON_TZ=") || strings.HasPrefix(trimmed, "TZ=")
	if spec, ok := sched.(*cron.SpecSchedule); ok && !explicitZone {
		spec.Location = e.Location
	}

	return sched, nil
}

// Validate front-loads every check the scheduler relies on: the expression
// parses and, unless disabled, has at least one future fire time.
func (e *Evaluator) Validate(expr string) error {
	sched, err := e.Parse(expr)
	if err != nil {
		return err
	}

	if _, ok := sched.(disabled); ok {
		return nil
	}

	if sched.Next(time.Now()).IsZero() {
		return invalid(expr, "expression never fires", nil)
	}

	return nil
}

// NextFireTime returns the first fire instant strictly after `after`.
func (e *Evaluator) NextFireTime(expr string, after time.Time) (time.Time, error) {
	sched, err := e.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}

	if _, ok := sched.(disabled); ok {
		return time.Time{}, ErrScheduleDisabled
	}

	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, ErrNoFutureFireTime
	}

	// robfig rounds intervals down to whole seconds; keep the strict ordering.
	if !next.After(after) {
		next = after.Add(minInterval).Truncate(time.Second)
	}

	return next.UTC(), nil
}

// Parse parses expr in UTC.
func Parse(expr string) (Schedule, error) {
	return defaultEvaluator.Parse(expr)
}

// Validate validates expr in UTC.
func Validate(expr string) error {
	return defaultEvaluator.Validate(expr)
}

// NextFireTime evaluates expr in UTC.
func NextFireTime(expr string, after time.Time) (time.Time, error) {
	return defaultEvaluator.NextFireTime(expr, after)
}

// IsDisabled reports whether expr is the explicit "@never" schedule.
func IsDisabled(expr string) bool {
	return strings.EqualFold(strings.TrimSpace(expr), Never)
}
