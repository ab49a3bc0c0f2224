package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/dukex/autoflow/pkg/templates"
	"github.com/google/uuid"
)

// Scheduler is the part of the scheduler that services keep in step with the store.
type Scheduler interface {
	Sync(ctx context.Context, workflow *models.Workflow)
	Remove(workflowID string)
	FireTimeOf(triggerID string) (time.Time, bool)
	Wake()
}

// Option configures the shared dependencies of a service.
type Option func(*deps)

// WithRegistry validates action types and configurations against registry.
func WithRegistry(r *registry.Registry) Option {
	return func(d *deps) {
		d.actions = r
	}
}

// WithEvaluator sets the schedule evaluator, UTC by default.
func WithEvaluator(e *schedule.Evaluator) Option {
	return func(d *deps) {
		d.evaluator = e
	}
}

// WithScheduler keeps the scheduler in step with every mutation.
func WithScheduler(s Scheduler) Option {
	return func(d *deps) {
		d.scheduler = s
	}
}

// WithCatalog enables template operations.
func WithCatalog(c *templates.Catalog) Option {
	return func(d *deps) {
		d.catalog = c
	}
}

func WithClock(c clock.Clock) Option {
	return func(d *deps) {
		d.clock = c
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(d *deps) {
		d.newID = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *deps) {
		d.logger = logger
	}
}

type deps struct {
	persistence persistence.Persistence
	actions     *registry.Registry
	evaluator   *schedule.Evaluator
	scheduler   Scheduler
	catalog     *templates.Catalog
	clock       clock.Clock
	newID       func() string
	logger      *slog.Logger
}

func newDeps(p persistence.Persistence, opts []Option) deps {
	d := deps{
		persistence: p,
		evaluator:   schedule.NewEvaluator(time.UTC),
		clock:       clock.System{},
		newID:       uuid.NewString,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(&d)
	}

	d.logger = d.logger.With("module", "services")

	return d
}

// syncTriggers re-registers the workflow with the scheduler and persists the
// resulting next fire time of each schedule trigger. Triggers of inactive
// workflows lose their next fire time so re-activation never catches up.
func (d *deps) syncTriggers(ctx context.Context, workflow *models.Workflow) {
	if d.scheduler == nil {
		return
	}

	d.scheduler.Sync(ctx, workflow)

	for _, trigger := range workflow.Triggers {
		if trigger.Kind != models.TriggerKindSchedule {
			continue
		}

		state := persistence.TriggerState{
			IsActive:          trigger.IsActive,
			LastFiredAt:       trigger.LastFiredAt,
			DeactivatedReason: trigger.DeactivatedReason,
		}

		next, ok := d.scheduler.FireTimeOf(trigger.ID)

		switch {
		case ok:
			if trigger.NextFireAt != nil && trigger.NextFireAt.Equal(next) {
				continue
			}

			state.NextFireAt = &next
		case !workflow.IsActive() && trigger.NextFireAt != nil:
		default:
			// Not scheduled: disabled, or deactivated by the scheduler during Sync.
			continue
		}

		err := d.persistence.WorkflowRepository().SetTriggerState(ctx, workflow.ID, trigger.ID, state)
		if err != nil {
			d.logger.WarnContext(ctx, "Failed to persist trigger state",
				"workflow_id", workflow.ID, "trigger_id", trigger.ID, "error", err)
		}
	}
}
