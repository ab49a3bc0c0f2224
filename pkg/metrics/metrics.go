// Package metrics exposes Prometheus collectors for executions, actions and the scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoflow"

// Dispatch kinds.
const (
	KindTrigger = "trigger"
	KindTask    = "task"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	runningExecutions prometheus.Gauge
	executionDuration prometheus.Histogram
	actionAttempts    *prometheus.CounterVec
	dispatchesTotal   *prometheus.CounterVec
	conflictsTotal    *prometheus.CounterVec
	evaluationErrors  prometheus.Counter
	taskRunsTotal     *prometheus.CounterVec
}

// New registers every collector, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Finished workflow executions by terminal status.",
			},
			[]string{"status"},
		),
		runningExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "executions_running",
				Help:      "Executions currently running their action pipeline.",
			},
		),
		executionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall time from running to terminal status.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		actionAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_attempts_total",
				Help:      "Action invocations by action type and result status.",
			},
			[]string{"action_type", "status"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "dispatches_total",
				Help:      "Due triggers and tasks dispatched by this instance.",
			},
			[]string{"kind"},
		),
		conflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "conflicts_total",
				Help:      "Due entries skipped because another instance holds the claim lock.",
			},
			[]string{"kind"},
		),
		evaluationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "trigger_evaluation_errors_total",
				Help:      "Schedule triggers deactivated because their next fire time could not be computed.",
			},
		),
		taskRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Scheduled task runs by outcome.",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executionsTotal,
		m.runningExecutions,
		m.executionDuration,
		m.actionAttempts,
		m.dispatchesTotal,
		m.conflictsTotal,
		m.evaluationErrors,
		m.taskRunsTotal,
	)

	return m
}

// Registry returns the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}

	m.runningExecutions.Inc()
}

// ExecutionFinished records a terminal status. ran is false for runs cancelled while queued.
func (m *Metrics) ExecutionFinished(status string, duration time.Duration, ran bool) {
	if m == nil {
		return
	}

	m.executionsTotal.WithLabelValues(status).Inc()

	if ran {
		m.runningExecutions.Dec()
		m.executionDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) ActionAttempts(actionType, status string, attempts int) {
	if m == nil || attempts <= 0 {
		return
	}

	m.actionAttempts.WithLabelValues(actionType, status).Add(float64(attempts))
}

func (m *Metrics) Dispatched(kind string) {
	if m == nil {
		return
	}

	m.dispatchesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Conflict(kind string) {
	if m == nil {
		return
	}

	m.conflictsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) EvaluationError() {
	if m == nil {
		return
	}

	m.evaluationErrors.Inc()
}

func (m *Metrics) TaskRun(status string) {
	if m == nil {
		return
	}

	m.taskRunsTotal.WithLabelValues(status).Inc()
}
