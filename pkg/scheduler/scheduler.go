// Package scheduler drives due workflow triggers and scheduled tasks from a single clock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/lock"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/dukex/autoflow/pkg/triggers"
	"github.com/google/uuid"
)

// Defaults.
const (
	DefaultTickInterval = 30 * time.Second
	DefaultLockTTL      = 5 * time.Minute
)

// Engine is what the scheduler dispatches to.
type Engine interface {
	Start(ctx context.Context, workflow *models.Workflow, tc models.TriggerContext) (*engine.Run, error)
	RunTask(ctx context.Context, task *models.ScheduledTask) engine.TaskResult
}

// Config tunes the loop.
type Config struct {
	TickInterval time.Duration
	// LockTTL bounds how long a claim on one fire time is held.
	LockTTL time.Duration
}

// TickReport summarises one tick.
type TickReport struct {
	Triggers  int
	Tasks     int
	Conflicts int
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithMetrics records dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithPublisher publishes task and trigger events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Scheduler) {
		s.publisher = publisher
	}
}

// Scheduler is the only writer of "what is due now". Run is a single
// goroutine; task runs are dispatched asynchronously.
type Scheduler struct {
	logger    *slog.Logger
	clock     clock.Clock
	registry  *triggers.Registry
	evaluator *schedule.Evaluator
	workflows persistence.WorkflowRepository
	tasks     persistence.ScheduledTaskRepository
	engine    Engine
	locker    lock.Locker
	publisher eventbus.EventPublisher
	metrics   *metrics.Metrics
	config    Config

	wake     chan struct{}
	inFlight sync.WaitGroup
}

// New creates a scheduler.
func New(
	logger *slog.Logger,
	registry *triggers.Registry,
	evaluator *schedule.Evaluator,
	store persistence.Persistence,
	eng Engine,
	locker lock.Locker,
	clk clock.Clock,
	config Config,
	opts ...Option,
) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}

	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	if clk == nil {
		clk = clock.System{}
	}

	if locker == nil {
		locker = lock.NewLocal(clk)
	}

	s := &Scheduler{
		logger:    logger.With("module", "scheduler"),
		clock:     clk,
		registry:  registry,
		evaluator: evaluator,
		workflows: store.WorkflowRepository(),
		tasks:     store.ScheduledTaskRepository(),
		engine:    eng,
		locker:    locker,
		config:    config,
		wake:      make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Load populates the trigger registry from the active workflows. Triggers
// whose schedule cannot be evaluated are deactivated in the store.
func (s *Scheduler) Load(ctx context.Context) error {
	workflows, err := s.workflows.ListByStatus(ctx, models.WorkflowStatusActive)
	if err != nil {
		return fmt.Errorf("failed to load active workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := s.registry.Sync(workflow); err != nil {
			s.handleSyncError(ctx, err)
		}
	}

	s.logger.InfoContext(ctx, "Loaded workflow triggers", "workflows", len(workflows), "scheduled", s.registry.Scheduled())

	return nil
}

// Sync re-registers the triggers of a workflow after it changed and wakes the loop.
func (s *Scheduler) Sync(ctx context.Context, workflow *models.Workflow) {
	if err := s.registry.Sync(workflow); err != nil {
		s.handleSyncError(ctx, err)
	}

	s.Wake()
}

// Remove drops every trigger of a deleted workflow.
func (s *Scheduler) Remove(workflowID string) {
	s.registry.Remove(workflowID)
	s.Wake()
}

// FireTimeOf returns the pending fire time of a schedule trigger.
func (s *Scheduler) FireTimeOf(triggerID string) (time.Time, bool) {
	return s.registry.FireTimeOf(triggerID)
}

// handleSyncError deactivates every trigger named by a TriggerEvaluationError in err.
func (s *Scheduler) handleSyncError(ctx context.Context, err error) {
	var errs []error

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	for _, e := range errs {
		var evalErr *triggers.TriggerEvaluationError
		if errors.As(e, &evalErr) {
			s.deactivate(ctx, evalErr, nil)

			continue
		}

		s.logger.ErrorContext(ctx, "Failed to sync workflow triggers", "error", e)
	}
}

// Wake makes Run re-evaluate its sleep, used after triggers or tasks change.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run ticks until ctx ends, sleeping until the next due trigger or the tick
// interval, whichever comes first. It waits for dispatched task runs before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler started", "tick_interval", s.config.TickInterval)

	defer s.inFlight.Wait()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-s.clock.After(s.sleep()):
		case <-s.wake:
		}
	}
}

func (s *Scheduler) sleep() time.Duration {
	wait := s.config.TickInterval

	if next, ok := s.registry.NextFireAt(); ok {
		if until := next.Sub(s.clock.Now()); until < wait {
			wait = max(until, 0)
		}
	}

	return wait
}

// Wait blocks until dispatched task runs have stored their outcome.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

// Tick dispatches every trigger and task due at the current instant.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport

	now := s.clock.Now()

	for _, entry := range s.registry.Due(now) {
		dispatched, err := s.fireTrigger(ctx, entry, now)
		if errors.Is(err, ErrSchedulingConflict) {
			report.Conflicts++
		}

		if dispatched {
			report.Triggers++
		}
	}

	tasks, err := s.tasks.DueTasks(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due tasks", "error", err)

		return report
	}

	for _, task := range tasks {
		dispatched, err := s.fireTask(ctx, task, now)
		if errors.Is(err, ErrSchedulingConflict) {
			report.Conflicts++
		}

		if dispatched {
			report.Tasks++
		}
	}

	return report
}

// claim takes the cluster-wide lock for one fire time of one entry.
func (s *Scheduler) claim(ctx context.Context, kind, id string, fireAt time.Time) error {
	key := fmt.Sprintf("%s:%s:%d", kind, id, fireAt.Unix())

	acquired, err := s.locker.Acquire(ctx, key, s.config.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire %s: %w", key, err)
	}

	if !acquired {
		s.metrics.Conflict(kind)

		return &SchedulingConflictError{Kind: kind, ID: id, Key: key}
	}

	return nil
}

// fireTrigger dispatches one popped entry and puts it back with its next fire time.
func (s *Scheduler) fireTrigger(ctx context.Context, entry triggers.Entry, now time.Time) (bool, error) {
	logger := s.logger.With("workflow_id", entry.WorkflowID, "trigger_id", entry.TriggerID, "fire_at", entry.FireAt)

	if err := s.claim(ctx, metrics.KindTrigger, entry.TriggerID, entry.FireAt); err != nil {
		logger.InfoContext(ctx, "Skipping trigger", "reason", err)
		s.reschedule(ctx, logger, entry, now, false)

		return false, err
	}

	workflow, err := s.workflows.GetByID(ctx, entry.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			s.registry.Remove(entry.WorkflowID)

			return false, nil
		}

		logger.ErrorContext(ctx, "Failed to load workflow", "error", err)
		s.reschedule(ctx, logger, entry, now, false)

		return false, err
	}

	trigger := workflow.TriggerByID(entry.TriggerID)

	switch {
	case !workflow.IsActive():
		logger.InfoContext(ctx, "Workflow no longer active, dropping its triggers", "status", workflow.Status)
		s.registry.Remove(workflow.ID)

		return false, nil
	case trigger == nil || !trigger.IsActive:
		logger.InfoContext(ctx, "Trigger removed or inactive, dropping it")
		s.registry.Deactivate(entry.TriggerID)

		return false, nil
	}

	tc := models.TriggerContext{
		TriggerID: entry.TriggerID,
		Kind:      models.TriggerKindSchedule,
		Payload: map[string]any{
			"schedule":     entry.Schedule,
			"scheduled_at": entry.FireAt.Format(time.RFC3339),
		},
		FiredAt: entry.FireAt,
	}

	run, err := s.engine.Start(ctx, workflow, tc)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to dispatch workflow", "error", err)
	} else {
		s.metrics.Dispatched(metrics.KindTrigger)
		logger.InfoContext(ctx, "Dispatched scheduled workflow", "execution_id", run.ExecutionID)
	}

	s.reschedule(ctx, logger, entry, now, true)

	return err == nil, err
}

// reschedule re-inserts the entry. The claim winner also persists the new
// trigger state; an evaluation failure deactivates the trigger.
func (s *Scheduler) reschedule(ctx context.Context, logger *slog.Logger, entry triggers.Entry, now time.Time, persist bool) {
	next, err := s.registry.Reschedule(entry, now)
	if err != nil {
		var evalErr *triggers.TriggerEvaluationError
		if errors.As(err, &evalErr) {
			firedAt := entry.FireAt
			s.deactivate(ctx, evalErr, &firedAt)

			return
		}

		logger.ErrorContext(ctx, "Failed to reschedule trigger", "error", err)

		return
	}

	if !persist {
		return
	}

	firedAt := entry.FireAt

	err = s.workflows.SetTriggerState(ctx, entry.WorkflowID, entry.TriggerID, persistence.TriggerState{
		IsActive:    true,
		NextFireAt:  &next,
		LastFiredAt: &firedAt,
	})
	if err != nil && !persistence.IsNotFound(err) {
		logger.WarnContext(ctx, "Failed to persist trigger state", "error", err)
	}
}

// deactivate marks a trigger inactive in the store and the registry so a
// schedule that cannot be evaluated is reported instead of silently dropped.
func (s *Scheduler) deactivate(ctx context.Context, evalErr *triggers.TriggerEvaluationError, firedAt *time.Time) {
	s.metrics.EvaluationError()
	s.registry.Deactivate(evalErr.TriggerID)

	s.logger.ErrorContext(ctx, "Deactivating trigger",
		"workflow_id", evalErr.WorkflowID,
		"trigger_id", evalErr.TriggerID,
		"schedule", evalErr.Schedule,
		"error", evalErr)

	err := s.workflows.SetTriggerState(ctx, evalErr.WorkflowID, evalErr.TriggerID, persistence.TriggerState{
		IsActive:          false,
		LastFiredAt:       firedAt,
		DeactivatedReason: evalErr.Error(),
	})
	if err != nil && !persistence.IsNotFound(err) {
		s.logger.WarnContext(ctx, "Failed to persist trigger deactivation", "trigger_id", evalErr.TriggerID, "error", err)
	}

	s.publish(ctx, evalErr.WorkflowID, events.TriggerDeactivated{
		BaseEvent: events.NewBaseEvent(uuid.NewString(), events.TriggerDeactivatedEvent, evalErr.WorkflowID, s.clock.Now()),
		TriggerID: evalErr.TriggerID,
		Reason:    evalErr.Error(),
	})
}

// fireTask claims a due task, persists the claim and runs it asynchronously.
// A crash between the claim and the outcome loses at most this one firing.
func (s *Scheduler) fireTask(ctx context.Context, task *models.ScheduledTask, now time.Time) (bool, error) {
	logger := s.logger.With("task_id", task.ID, "task_type", task.TaskType)

	if task.NextRunAt == nil {
		return false, nil
	}

	if err := s.claim(ctx, metrics.KindTask, task.ID, *task.NextRunAt); err != nil {
		logger.InfoContext(ctx, "Skipping task", "reason", err)

		return false, err
	}

	claimed, err := s.tasks.Update(ctx, task.ID, func(stored *models.ScheduledTask) error {
		if !stored.IsDue(now) {
			return errTaskNotDue
		}

		stored.UpdatedAt = now

		if !stored.IsRecurring() {
			if stored.Fired() {
				return errTaskNotDue
			}

			claimedAt := now
			stored.ClaimedAt = &claimedAt
			stored.IsActive = false
			stored.NextRunAt = nil

			return nil
		}

		next, err := s.evaluator.NextFireTime(stored.Schedule, now)
		if err != nil {
			logger.ErrorContext(ctx, "Deactivating recurring task", "schedule", stored.Schedule, "error", err)

			stored.IsActive = false
			stored.NextRunAt = nil
			stored.LastError = err.Error()

			return nil
		}

		stored.NextRunAt = &next

		return nil
	})
	if err != nil {
		if errors.Is(err, errTaskNotDue) || persistence.IsScheduledTaskNotFound(err) {
			return false, nil
		}

		logger.ErrorContext(ctx, "Failed to claim task", "error", err)

		return false, err
	}

	s.metrics.Dispatched(metrics.KindTask)
	logger.InfoContext(ctx, "Dispatched scheduled task", "next_run_at", claimed.NextRunAt)

	s.inFlight.Add(1)

	go func() {
		defer s.inFlight.Done()

		s.runTask(ctx, logger, claimed)
	}()

	return true, nil
}

// runTask executes a claimed task and folds the outcome into its counters.
func (s *Scheduler) runTask(ctx context.Context, logger *slog.Logger, task *models.ScheduledTask) {
	result := s.engine.RunTask(ctx, task)

	storeCtx := context.WithoutCancel(ctx)

	_, err := s.tasks.Update(storeCtx, task.ID, func(stored *models.ScheduledTask) error {
		stored.RecordRun(result.StartedAt, result.Err)

		finished := s.clock.Now()
		stored.UpdatedAt = finished

		if !stored.IsRecurring() {
			stored.IsActive = false
			stored.NextRunAt = nil

			return nil
		}

		if stored.IsActive {
			next, err := s.evaluator.NextFireTime(stored.Schedule, finished)
			if err != nil {
				stored.IsActive = false
				stored.NextRunAt = nil

				return nil
			}

			if stored.NextRunAt == nil || stored.NextRunAt.Before(next) {
				stored.NextRunAt = &next
			}
		}

		return nil
	})
	if err != nil && !persistence.IsScheduledTaskNotFound(err) {
		logger.ErrorContext(ctx, "Failed to store task outcome", "error", err)
	}

	fired := events.TaskFired{
		BaseEvent: events.NewBaseEvent(uuid.NewString(), events.TaskFiredEvent, "", s.clock.Now()),
		TaskID:    task.ID,
		TaskType:  task.TaskType,
		Status:    result.Status(),
	}

	if result.Err != nil {
		fired.Error = result.Err.Error()
	}

	s.publish(storeCtx, task.ID, fired)
}

func (s *Scheduler) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
