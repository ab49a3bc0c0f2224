package scheduler

import (
	"errors"
	"fmt"
)

// ErrSchedulingConflict is returned when another instance already claimed a due entry.
var ErrSchedulingConflict = errors.New("scheduling conflict")

var errTaskNotDue = errors.New("task no longer due")

// SchedulingConflictError names the due entry this instance lost to another one.
type SchedulingConflictError struct {
	Kind string // trigger or task
	ID   string
	Key  string
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("%s '%s' already claimed by another instance (lock %s)", e.Kind, e.ID, e.Key)
}

func (e *SchedulingConflictError) Is(target error) bool {
	return target == ErrSchedulingConflict
}
