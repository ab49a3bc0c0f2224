package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logaction "github.com/dukex/autoflow/pkg/actions/log"
	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/lock"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/router"
	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/dukex/autoflow/pkg/scheduler"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/stats"
	"github.com/dukex/autoflow/pkg/triggers"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	clk := clock.System{}
	store := file.NewPersistence(t.TempDir())
	evaluator := schedule.NewEvaluator(time.UTC)
	m := metrics.New()

	actions := registry.NewRegistry(logger)
	actions.RegisterAction(logaction.NewActionFactory())

	eng := engine.New(logger, actions, store, clk, engine.DefaultConfig(), engine.WithMetrics(m))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = eng.Shutdown(ctx)
	})

	reg := triggers.NewRegistry(logger, evaluator, clk)
	sched := scheduler.New(logger, reg, evaluator, store, eng, lock.NewLocal(clk), clk, scheduler.Config{})

	opts := []services.Option{
		services.WithRegistry(actions),
		services.WithEvaluator(evaluator),
		services.WithScheduler(sched),
		services.WithClock(clk),
	}

	api := NewAPI(logger, web.Services{
		Workflows:  services.NewWorkflow(store, opts...),
		Executions: services.NewExecution(store, eng, time.Second, opts...),
		Tasks:      services.NewScheduledTask(store, opts...),
		Catalog:    services.NewCatalog(opts...),
		Stats:      stats.New(store, clk),
		Router:     router.New(logger, reg, eng, clk),
	}, actions, m)

	return api.App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Autoflow API", body)
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		status, body := get(t, app, path)

		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "OK", body, path)
	}
}

func TestAPI_GetWorkflows_Empty(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/workflows")
	require.Equal(t, http.StatusOK, status)

	var response struct {
		Workflows  []json.RawMessage `json:"workflows"`
		TotalCount int               `json:"total_count"`
	}

	require.NoError(t, json.Unmarshal([]byte(body), &response))
	assert.Empty(t, response.Workflows)
	assert.Equal(t, 0, response.TotalCount)
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/metrics")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "autoflow_executions_running")
	assert.Contains(t, body, "go_goroutines")
}
