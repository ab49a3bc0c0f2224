//go:build integration

package web_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	logaction "github.com/dukex/autoflow/pkg/actions/log"
	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/lock"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/router"
	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/dukex/autoflow/pkg/scheduler"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/stats"
	"github.com/dukex/autoflow/pkg/triggers"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgresApp(t *testing.T) *testApp {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("autoflow_test"),
		postgres.WithUsername("autoflow"),
		postgres.WithPassword("autoflow"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgresql.NewPersistence(ctx, discardLogger(), databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	clk := clock.NewFake(now)
	evaluator := schedule.NewEvaluator(time.UTC)

	actions := registry.NewRegistry(discardLogger())
	actions.RegisterAction(logaction.NewActionFactory())

	eng := engine.New(discardLogger(), actions, store, clk, engine.DefaultConfig())
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		_ = eng.Shutdown(shutdownCtx)
	})

	reg := triggers.NewRegistry(discardLogger(), evaluator, clk)
	sched := scheduler.New(discardLogger(), reg, evaluator, store, eng, lock.NewLocal(clk), clk, scheduler.Config{})

	opts := []services.Option{
		services.WithRegistry(actions),
		services.WithEvaluator(evaluator),
		services.WithScheduler(sched),
		services.WithClock(clk),
	}

	handlers := web.NewAPIHandlers(web.Services{
		Workflows:  services.NewWorkflow(store, opts...),
		Executions: services.NewExecution(store, eng, 10*time.Second, opts...),
		Tasks:      services.NewScheduledTask(store, opts...),
		Catalog:    services.NewCatalog(opts...),
		Stats:      stats.New(store, clk),
		Router:     router.New(discardLogger(), reg, eng, clk),
	}, web.NewValidator(), actions)

	app := fiber.New()
	handlers.Register(app)

	return &testApp{app: app, store: store}
}

func TestIntegration_WorkflowRoundTrip(t *testing.T) {
	a := setupPostgresApp(t)

	created := a.createWorkflow(t, dailyRequest(models.WorkflowStatusDraft))

	status, body := a.do(t, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	activated := decode[models.Workflow](t, body)
	require.Len(t, activated.Triggers, 1)
	require.NotNil(t, activated.Triggers[0].NextFireAt)
	assert.Equal(t, now.Add(time.Hour), activated.Triggers[0].NextFireAt.UTC())

	status, body = a.do(t, http.MethodPost, "/workflows/"+created.ID+"/execute", web.ExecuteRequest{Wait: true})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.ExecutionStatusCompleted, decode[models.Execution](t, body).Status)

	status, body = a.do(t, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	stored := decode[models.Workflow](t, body)
	assert.Equal(t, int64(1), stored.TotalRuns)
	assert.Equal(t, int64(1), stored.SuccessfulRuns)

	status, body = a.do(t, http.MethodGet, "/workflows/stats", nil)
	require.Equal(t, http.StatusOK, status)

	summary := decode[models.WorkflowStats](t, body)
	assert.Equal(t, 1, summary.Active)
	assert.Equal(t, 1, summary.ExecutionsToday)
	assert.InDelta(t, 100, summary.SuccessRate, 0.001)

	status, _ = a.do(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, body = a.do(t, http.MethodGet, "/workflows/executions?workflow_id="+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, decode[map[string]any](t, body)["total_count"], 0, "executions outlive their workflow")
}
