package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ExecutionLifecycle(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.ExecutionStarted()
	m.ExecutionStarted()
	m.ExecutionFinished("completed", 120*time.Millisecond, true)
	m.ExecutionFinished("cancelled", 0, false)

	expected := `
# HELP autoflow_executions_total Finished workflow executions by terminal status.
# TYPE autoflow_executions_total counter
autoflow_executions_total{status="cancelled"} 1
autoflow_executions_total{status="completed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "autoflow_executions_total"))

	running := `
# HELP autoflow_executions_running Executions currently running their action pipeline.
# TYPE autoflow_executions_running gauge
autoflow_executions_running 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(running), "autoflow_executions_running"))
}

func TestMetrics_SchedulerCounters(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.Dispatched(metrics.KindTrigger)
	m.Dispatched(metrics.KindTask)
	m.Conflict(metrics.KindTrigger)
	m.ActionAttempts("http_request", "failed", 3)

	count, err := testutil.GatherAndCount(m.Registry(),
		"autoflow_scheduler_dispatches_total", "autoflow_scheduler_conflicts_total", "autoflow_action_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ExecutionStarted()
		m.ExecutionFinished("failed", time.Second, true)
		m.Dispatched(metrics.KindTask)
		m.Conflict(metrics.KindTask)
		m.EvaluationError()
		m.TaskRun("succeeded")
		m.ActionAttempts("log", "succeeded", 1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.TaskRun("succeeded")

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(recorder.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, string(body), `autoflow_task_runs_total{status="succeeded"} 1`)
}
