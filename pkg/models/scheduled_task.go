package models

import "time"

// ScheduleType distinguishes one-off from recurring scheduled tasks.
type ScheduleType string

const (
	ScheduleTypeOnce      ScheduleType = "once"
	ScheduleTypeRecurring ScheduleType = "recurring"
)

// TaskRunStatus is the outcome of the last scheduled task run.
type TaskRunStatus string

const (
	TaskRunSucceeded TaskRunStatus = "succeeded"
	TaskRunFailed    TaskRunStatus = "failed"
)

// ScheduledTask is a standalone timed job that runs one registered action type.
type ScheduledTask struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"                    validate:"required,min=3"`
	Description  string         `json:"description,omitempty"`
	TaskType     string         `json:"task_type"               validate:"required"`
	Config       map[string]any `json:"config"`
	ScheduleType ScheduleType   `json:"schedule_type"           validate:"required,oneof=once recurring"`

	// RunAt is the single fire instant of a once task.
	RunAt *time.Time `json:"run_at,omitempty"`

	// Schedule is the expression of a recurring task.
	Schedule string `json:"schedule,omitempty"`

	IsActive  bool       `json:"is_active"`
	NextRunAt *time.Time `json:"next_run_at"`

	// ClaimedAt is set when the scheduler claims a once task for its single run.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	RunCount      int64         `json:"run_count"`
	SuccessCount  int64         `json:"success_count"`
	FailureCount  int64         `json:"failure_count"`
	LastRunAt     *time.Time    `json:"last_run_at,omitempty"`
	LastRunStatus TaskRunStatus `json:"last_run_status,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsRecurring reports whether the task fires repeatedly.
func (t *ScheduledTask) IsRecurring() bool {
	return t.ScheduleType == ScheduleTypeRecurring
}

// Fired reports whether a once task was claimed or already ran.
func (t *ScheduledTask) Fired() bool {
	return t.ScheduleType == ScheduleTypeOnce && (t.ClaimedAt != nil || t.RunCount > 0)
}

// IsDue reports whether the task should fire at now.
func (t *ScheduledTask) IsDue(now time.Time) bool {
	return t.IsActive && t.NextRunAt != nil && !t.NextRunAt.After(now)
}

// RecordRun folds one run outcome into the counters.
func (t *ScheduledTask) RecordRun(at time.Time, runErr error) {
	t.RunCount++

	ranAt := at
	t.LastRunAt = &ranAt

	if runErr != nil {
		t.FailureCount++
		t.LastRunStatus = TaskRunFailed
		t.LastError = runErr.Error()

		return
	}

	t.SuccessCount++
	t.LastRunStatus = TaskRunSucceeded
	t.LastError = ""
}
