package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// ScheduledTask manages standalone timed jobs. next_run_at is always derived
// here, never taken from the client.
type ScheduledTask struct {
	deps
}

func NewScheduledTask(persistence persistence.Persistence, opts ...Option) *ScheduledTask {
	return &ScheduledTask{deps: newDeps(persistence, opts)}
}

// List returns every task, soonest next run first and inactive tasks last.
func (s *ScheduledTask) List(ctx context.Context) ([]*models.ScheduledTask, error) {
	tasks, err := s.persistence.ScheduledTaskRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}

	slices.SortStableFunc(tasks, func(a, b *models.ScheduledTask) int {
		switch {
		case a.NextRunAt == nil && b.NextRunAt == nil:
			return strings.Compare(a.Name, b.Name)
		case a.NextRunAt == nil:
			return 1
		case b.NextRunAt == nil:
			return -1
		default:
			return a.NextRunAt.Compare(*b.NextRunAt)
		}
	})

	return tasks, nil
}

func (s *ScheduledTask) FetchByID(ctx context.Context, id string) (*models.ScheduledTask, error) {
	return s.persistence.ScheduledTaskRepository().GetByID(ctx, id)
}

// Create validates and stores a new task.
func (s *ScheduledTask) Create(ctx context.Context, task *models.ScheduledTask) (*models.ScheduledTask, error) {
	if task == nil {
		return nil, NewValidationError("Create", "INVALID_TASK", "task cannot be nil", ErrInvalidTask)
	}

	if err := s.validateTask(ctx, "Create", task); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	task.ID = s.newID()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.RunCount, task.SuccessCount, task.FailureCount = 0, 0, 0
	task.LastRunAt, task.LastRunStatus, task.LastError = nil, "", ""
	task.ClaimedAt = nil

	if err := s.derive(task, now); err != nil {
		return nil, err
	}

	return s.save(ctx, task, "create")
}

// Update replaces the definition of a task and keeps its run history.
func (s *ScheduledTask) Update(ctx context.Context, id string, task *models.ScheduledTask) (*models.ScheduledTask, error) {
	if task == nil {
		return nil, NewValidationError("Update", "INVALID_TASK", "task cannot be nil", ErrInvalidTask)
	}

	if err := s.validateTask(ctx, "Update", task); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	updated, err := s.persistence.ScheduledTaskRepository().Update(ctx, id, func(stored *models.ScheduledTask) error {
		task.ID = id
		task.CreatedAt = stored.CreatedAt
		task.UpdatedAt = now
		task.RunCount = stored.RunCount
		task.SuccessCount = stored.SuccessCount
		task.FailureCount = stored.FailureCount
		task.LastRunAt = stored.LastRunAt
		task.LastRunStatus = stored.LastRunStatus
		task.LastError = stored.LastError
		task.ClaimedAt = stored.ClaimedAt

		if err := s.derive(task, now); err != nil {
			return err
		}

		*stored = *task

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.wake()

	return updated, nil
}

func (s *ScheduledTask) Delete(ctx context.Context, id string) error {
	return s.persistence.ScheduledTaskRepository().Delete(ctx, id)
}

func (s *ScheduledTask) save(ctx context.Context, task *models.ScheduledTask, verb string) (*models.ScheduledTask, error) {
	if err := s.persistence.ScheduledTaskRepository().Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to %s scheduled task: %w", verb, err)
	}

	s.wake()

	return s.FetchByID(ctx, task.ID)
}

func (s *ScheduledTask) wake() {
	if s.scheduler != nil {
		s.scheduler.Wake()
	}
}

// derive computes next_run_at. A once task that already fired stays inactive.
func (s *ScheduledTask) derive(task *models.ScheduledTask, now time.Time) error {
	if task.Fired() {
		task.IsActive = false
	}

	if !task.IsActive {
		task.NextRunAt = nil

		return nil
	}

	if !task.IsRecurring() {
		runAt := task.RunAt.UTC()
		task.NextRunAt = &runAt

		return nil
	}

	next, err := s.evaluator.NextFireTime(task.Schedule, now)
	if err != nil {
		return NewValidationError("derive", "INVALID_SCHEDULE", err.Error(), ErrInvalidSchedule)
	}

	task.NextRunAt = &next

	return nil
}

func (s *ScheduledTask) validateTask(ctx context.Context, op string, task *models.ScheduledTask) error {
	var p problems

	if len(strings.TrimSpace(task.Name)) < 3 {
		p.add(ErrInvalidTask, "name must have at least 3 characters")
	}

	switch task.ScheduleType {
	case models.ScheduleTypeOnce:
		if task.RunAt == nil {
			p.add(ErrInvalidTask, "run_at is required for once tasks")
		}
	case models.ScheduleTypeRecurring:
		if err := s.evaluator.Validate(task.Schedule); err != nil {
			p.add(ErrInvalidSchedule, "%v", err)
		}
	default:
		p.add(ErrInvalidTask, "schedule_type must be once or recurring, got '%s'", task.ScheduleType)
	}

	if strings.TrimSpace(task.TaskType) == "" {
		p.add(ErrInvalidTask, "task_type is required")
	} else if s.actions != nil {
		if err := s.actions.ValidateConfig(ctx, task.TaskType, task.Config); err != nil {
			p.add(ErrInvalidTask, "%v", err)
		}
	}

	return p.err(op, "INVALID_TASK")
}
