package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/actions/httprequest"
	logaction "github.com/dukex/autoflow/pkg/actions/log"
	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/lock"
	"github.com/dukex/autoflow/pkg/mocks"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/dukex/autoflow/pkg/scheduler"
	"github.com/dukex/autoflow/pkg/templates"
	"github.com/dukex/autoflow/pkg/triggers"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	store     persistence.Persistence
	clock     *clock.Fake
	triggers  *triggers.Registry
	scheduler *scheduler.Scheduler
	actions   *registry.Registry
	opts      []Option
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clk := clock.NewFake(testNow)
	store := file.NewPersistence(t.TempDir())
	evaluator := schedule.NewEvaluator(time.UTC)

	actions := registry.NewRegistry(discardLogger())
	actions.RegisterAction(logaction.NewActionFactory())
	actions.RegisterAction(httprequest.NewActionFactory())

	reg := triggers.NewRegistry(discardLogger(), evaluator, clk)
	sched := scheduler.New(discardLogger(), reg, evaluator, store, &mocks.MockEngine{}, lock.NewLocal(clk), clk, scheduler.Config{})

	catalog, err := templates.Builtin()
	require.NoError(t, err)

	return &env{
		store:     store,
		clock:     clk,
		triggers:  reg,
		scheduler: sched,
		actions:   actions,
		opts: []Option{
			WithRegistry(actions),
			WithEvaluator(evaluator),
			WithScheduler(sched),
			WithCatalog(catalog),
			WithClock(clk),
			WithLogger(discardLogger()),
		},
	}
}

func (e *env) workflows() *Workflow {
	return NewWorkflow(e.store, e.opts...)
}

func (e *env) tasks() *ScheduledTask {
	return NewScheduledTask(e.store, e.opts...)
}

// dailyWorkflow is a valid definition firing every day at 09:00.
func dailyWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:     "Daily digest",
		Category: "reporting",
		Actions: []*models.Action{
			{Type: "log", Order: 1, Config: map[string]any{"message": "hello"}},
		},
		Triggers: []*models.Trigger{
			{Kind: models.TriggerKindSchedule, Schedule: "0 9 * * *", IsActive: true},
		},
	}
}
