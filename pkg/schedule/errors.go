package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSchedule is matched by every InvalidScheduleError.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrScheduleDisabled is returned for the explicit "@never" schedule.
	ErrScheduleDisabled = errors.New("schedule is disabled")

	// ErrNoFutureFireTime is returned when a valid expression has no fire time left.
	ErrNoFutureFireTime = errors.New("schedule has no future fire time")
)

// InvalidScheduleError reports a malformed expression at definition time.
type InvalidScheduleError struct {
	Expr   string
	Reason string
	Err    error
}

func (e *InvalidScheduleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid schedule %q: %s: %v", e.Expr, e.Reason, e.Err)
	}

	return fmt.Sprintf("invalid schedule %q: %s", e.Expr, e.Reason)
}

func (e *InvalidScheduleError) Unwrap() error {
	return e.Err
}

func (e *InvalidScheduleError) Is(target error) bool {
	return target == ErrInvalidSchedule
}

func invalid(expr, reason string, err error) *InvalidScheduleError {
	return &InvalidScheduleError{Expr: expr, Reason: reason, Err: err}
}

// IsInvalidSchedule checks if an error was caused by a malformed expression.
func IsInvalidSchedule(err error) bool {
	return errors.Is(err, ErrInvalidSchedule)
}
