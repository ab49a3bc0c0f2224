// Package engine runs workflow action pipelines and produces execution records.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Defaults.
const (
	DefaultActionTimeout     = 30 * time.Second
	DefaultMaxConcurrent     = 16
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultStaleAfter        = 2 * time.Minute
)

const globalSlot = ""

// Config tunes timeouts, retries and concurrency.
type Config struct {
	ActionTimeout time.Duration
	Retry         RetryPolicy
	// MaxConcurrent caps running executions across all workflows; zero means unlimited.
	MaxConcurrent int
	// HeartbeatInterval is how often a run stamps its liveness while an action
	// is in progress; zero stamps only between actions.
	HeartbeatInterval time.Duration
	// StaleAfter is how long an execution may go without a heartbeat before
	// another instance may finalise it.
	StaleAfter time.Duration
}

// DefaultConfig returns the configuration used by the serve command defaults.
func DefaultConfig() Config {
	return Config{
		ActionTimeout:     DefaultActionTimeout,
		Retry:             DefaultRetryPolicy(),
		MaxConcurrent:     DefaultMaxConcurrent,
		HeartbeatInterval: DefaultHeartbeatInterval,
		StaleAfter:        DefaultStaleAfter,
	}
}

// Option customises an Engine.
type Option func(*Engine)

// WithTracer sets the tracer used for execution and action spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithMetrics records execution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithPublisher publishes lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithOwner sets the instance id stamped on executions this engine runs.
func WithOwner(owner string) Option {
	return func(e *Engine) {
		e.owner = owner
	}
}

// WithIDGenerator replaces the execution id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// Engine executes workflows. Actions of one execution run strictly in order;
// executions run concurrently up to the per-workflow and global limits.
type Engine struct {
	logger     *slog.Logger
	clock      clock.Clock
	registry   *registry.Registry
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	config     Config
	newID      func() string
	owner      string

	slots *slots

	mu   sync.Mutex
	runs map[string]*Run

	root   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates an engine over the given store.
func New(
	logger *slog.Logger,
	reg *registry.Registry,
	store persistence.Persistence,
	clk clock.Clock,
	config Config,
	opts ...Option,
) *Engine {
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = DefaultActionTimeout
	}

	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}

	if clk == nil {
		clk = clock.System{}
	}

	root, stop := context.WithCancel(context.Background())

	e := &Engine{
		logger:     logger.With("module", "engine"),
		clock:      clk,
		registry:   reg,
		workflows:  store.WorkflowRepository(),
		executions: store.ExecutionRepository(),
		tracer:     noop.NewTracerProvider().Tracer("autoflow"),
		config:     config,
		newID:      uuid.NewString,
		owner:      uuid.NewString(),
		slots:      newSlots(),
		runs:       make(map[string]*Run),
		root:       root,
		stop:       stop,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Trigger loads the workflow and starts it.
func (e *Engine) Trigger(ctx context.Context, workflowID string, tc models.TriggerContext) (*Run, error) {
	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return e.Start(ctx, workflow, tc)
}

// Execute starts the workflow and waits for the terminal execution.
func (e *Engine) Execute(ctx context.Context, workflow *models.Workflow, tc models.TriggerContext) (*models.Execution, error) {
	run, err := e.Start(ctx, workflow, tc)
	if err != nil {
		return nil, err
	}

	return e.Wait(ctx, run)
}

// Start persists a pending execution and runs it in the background. The run
// outlives ctx; only Cancel and Shutdown stop it.
func (e *Engine) Start(ctx context.Context, workflow *models.Workflow, tc models.TriggerContext) (*Run, error) {
	if !workflow.IsActive() {
		return nil, fmt.Errorf("%w: '%s' is %s", ErrWorkflowNotActive, workflow.ID, workflow.Status)
	}

	now := e.clock.Now()
	if tc.FiredAt.IsZero() {
		tc.FiredAt = now
	}

	execution := models.NewExecution(e.newID(), workflow, tc, now)
	execution.Owner = e.owner
	heartbeat := now
	execution.HeartbeatAt = &heartbeat

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return nil, ErrEngineStopped
	}

	run := newRun(execution)
	e.runs[run.ExecutionID] = run
	e.wg.Add(1)
	e.mu.Unlock()

	if err := e.executions.Create(ctx, execution); err != nil {
		e.forget(run)
		e.wg.Done()

		return nil, err
	}

	e.publish(ctx, workflow.ID, events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(e.newID(), events.WorkflowTriggeredEvent, workflow.ID, now),
		TriggerID:   tc.TriggerID,
		TriggerKind: tc.Kind,
		ExecutionID: execution.ID,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(e.root, cancel)

	go func() {
		defer e.wg.Done()
		defer cancel()
		defer stopAfter()

		e.run(runCtx, run, workflow, tc, execution)
	}()

	return run, nil
}

// Wait blocks until the run finished or ctx ended, returning the latest state either way.
func (e *Engine) Wait(ctx context.Context, run *Run) (*models.Execution, error) {
	select {
	case <-run.Done():
		return run.Execution(), nil
	case <-ctx.Done():
		return run.Execution(), ctx.Err()
	}
}

// Lookup returns the handle of an execution running in this process.
func (e *Engine) Lookup(executionID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, ok := e.runs[executionID]

	return run, ok
}

// Cancel requests cooperative cancellation. A run owned by this engine stops
// before its next action. A run owned by a live peer gets a stored cancel
// request that its owner picks up at its next heartbeat. A non-terminal
// execution whose owner went stale is finalised as cancelled directly.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	if run, ok := e.Lookup(executionID); ok {
		run.requestCancel()

		current := run.Execution()
		current.CancelRequested = true

		return current, nil
	}

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.IsTerminal() {
		return execution, finishedError(execution)
	}

	if !execution.Stale(e.staleCutoff()) {
		requested, err := e.executions.RequestCancel(ctx, executionID)
		if errors.Is(err, persistence.ErrExecutionImmutable) {
			return e.finishedMeanwhile(ctx, executionID)
		}

		return requested, err
	}

	if err := e.abandon(ctx, execution, models.ExecutionStatusCancelled, models.SkipReasonCancelled, ""); err != nil {
		if errors.Is(err, persistence.ErrExecutionImmutable) {
			return e.finishedMeanwhile(ctx, executionID)
		}

		return nil, err
	}

	return execution, nil
}

// Recover fails executions whose owner stopped heartbeating, such as those
// left pending or running by a crashed process. Executions of live peers are
// left alone.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	inFlight, err := e.executions.ListInFlight(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := e.staleCutoff()
	recovered := 0

	var errs []error

	for _, execution := range inFlight {
		if _, owned := e.Lookup(execution.ID); owned {
			continue
		}

		if !execution.Stale(cutoff) {
			continue
		}

		err := e.abandon(ctx, execution, models.ExecutionStatusFailed, models.SkipReasonInterrupted,
			"execution interrupted before completion")
		if errors.Is(err, persistence.ErrExecutionImmutable) {
			continue
		}

		if err != nil {
			errs = append(errs, err)

			continue
		}

		recovered++
	}

	if recovered > 0 {
		e.logger.InfoContext(ctx, "Recovered interrupted executions", "count", recovered)
	}

	return recovered, errors.Join(errs...)
}

// RecoverLoop runs Recover every StaleAfter until ctx ends, taking over
// executions of instances that died after startup.
func (e *Engine) RecoverLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.clock.After(e.config.StaleAfter):
			if _, err := e.Recover(ctx); err != nil && ctx.Err() == nil {
				e.logger.WarnContext(ctx, "Failed to recover stale executions", "error", err)
			}
		}
	}
}

func (e *Engine) staleCutoff() time.Time {
	return e.clock.Now().Add(-e.config.StaleAfter)
}

func (e *Engine) finishedMeanwhile(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return execution, finishedError(execution)
}

func finishedError(execution *models.Execution) error {
	return fmt.Errorf("%w: '%s' is %s", ErrExecutionFinished, execution.ID, execution.Status)
}

// Shutdown stops accepting runs, interrupts queued and running ones and waits for them to be stored.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abandon finalises a stored execution that no goroutine owns.
func (e *Engine) abandon(
	ctx context.Context, execution *models.Execution, status models.ExecutionStatus, reason, message string,
) error {
	if workflow, err := e.workflows.GetByID(ctx, execution.WorkflowID); err == nil {
		execution.SkipRemaining(workflow.SortedActions(), reason)
	}

	execution.CancelRequested = status == models.ExecutionStatusCancelled

	now := e.clock.Now()
	if execution.Status == models.ExecutionStatusPending && status == models.ExecutionStatusFailed {
		if err := execution.Transition(models.ExecutionStatusRunning, now); err != nil {
			return err
		}
	}

	if err := execution.Transition(status, now); err != nil {
		return err
	}

	if message != "" {
		execution.ErrorMessage = &message
	}

	if err := e.executions.Complete(ctx, execution); err != nil {
		return err
	}

	e.finished(ctx, execution, false)

	return nil
}

func (e *Engine) run(ctx context.Context, run *Run, workflow *models.Workflow, tc models.TriggerContext, execution *models.Execution) {
	defer close(run.done)
	defer e.forget(run)

	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID, "triggered_by", execution.TriggeredBy)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.TriggerIDKey, tc.TriggerID),
		attribute.String(otelhelper.TriggerKindKey, string(tc.Kind)),
	)
	defer span.End()

	actions := workflow.SortedActions()

	stopHeartbeat := e.heartbeat(ctx, logger, run)
	defer stopHeartbeat()

	release, err := e.acquire(ctx, run, workflow)
	if err != nil {
		logger.InfoContext(ctx, "Execution cancelled while queued", "reason", err)
		execution.CancelRequested = run.cancelRequested()
		execution.SkipRemaining(actions, models.SkipReasonCancelled)
		_ = execution.Transition(models.ExecutionStatusCancelled, e.clock.Now())
		e.complete(ctx, logger, run, execution, false)
		span.SetAttributes(attribute.String(otelhelper.ExecutionStatus, string(execution.Status)))

		return
	}
	defer release()

	_ = execution.Transition(models.ExecutionStatusRunning, e.clock.Now())
	e.progress(ctx, logger, run, execution)
	e.metrics.ExecutionStarted()

	e.publish(ctx, workflow.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(e.newID(), events.ExecutionStartedEvent, workflow.ID, *execution.StartedAt),
		ExecutionID: execution.ID,
		TriggeredBy: execution.TriggeredBy,
	})

	logger.InfoContext(ctx, "Execution started", "actions", len(actions))

	rc := models.NewRunContext(execution, workflow, tc)
	policy := workflow.EffectiveFailurePolicy()

	var (
		firstFailure *models.ActionResult
		cancelled    bool
	)

	for _, action := range actions {
		e.beat(ctx, logger, run)

		if stopping(ctx, run) {
			cancelled = true

			execution.SkipRemaining(actions, models.SkipReasonCancelled)

			break
		}

		if action.ConditionEnabled && action.Condition != nil && !condition.Evaluate(*action.Condition, rc.Data()) {
			logger.DebugContext(ctx, "Action condition not met", "action_id", action.ID)
			execution.AppendResult(skipped(action, models.SkipReasonConditionNotMet))
			e.progress(ctx, logger, run, execution)

			continue
		}

		result, output := e.invoke(ctx, logger, run, &rc, action)
		execution.AppendResult(result)

		if result.Status == models.ActionResultSucceeded {
			rc.Record(action, output)
		} else if firstFailure == nil {
			firstFailure = result
		}

		if result.Status == models.ActionResultFailed && policy == models.FailurePolicyStop {
			reason := models.SkipReasonPreviousFailed
			if stopping(ctx, run) {
				cancelled = true
				reason = models.SkipReasonCancelled
			}

			execution.SkipRemaining(actions, reason)

			break
		}

		e.progress(ctx, logger, run, execution)
	}

	execution.CancelRequested = run.cancelRequested()
	now := e.clock.Now()

	switch {
	case cancelled:
		_ = execution.Transition(models.ExecutionStatusCancelled, now)
	case firstFailure != nil:
		_ = execution.Fail(fmt.Sprintf("action '%s' failed: %s", firstFailure.ActionID, firstFailure.Error), now)
		otelhelper.SetError(span, errors.New(*execution.ErrorMessage))
	default:
		_ = execution.Transition(models.ExecutionStatusCompleted, now)
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionStatus, string(execution.Status)))

	e.complete(ctx, logger, run, execution, true)
}

// stopping reports whether cancellation was requested or the engine is shutting down.
func stopping(ctx context.Context, run *Run) bool {
	return run.cancelRequested() || ctx.Err() != nil
}

// acquire takes the workflow slot first and the global slot second so a
// queued run never holds global capacity while its workflow is busy.
func (e *Engine) acquire(ctx context.Context, run *Run, workflow *models.Workflow) (func(), error) {
	if err := e.slots.acquire(ctx, "workflow:"+workflow.ID, workflow.EffectiveMaxConcurrent(), run.cancel); err != nil {
		return nil, err
	}

	if err := e.slots.acquire(ctx, globalSlot, e.config.MaxConcurrent, run.cancel); err != nil {
		e.slots.release("workflow:" + workflow.ID)

		return nil, err
	}

	return func() {
		e.slots.release(globalSlot)
		e.slots.release("workflow:" + workflow.ID)
	}, nil
}

// invoke runs one action with its timeout and retry policy and returns the final result.
func (e *Engine) invoke(
	ctx context.Context, logger *slog.Logger, run *Run, rc *models.RunContext, action *models.Action,
) (*models.ActionResult, map[string]any) {
	logger = logger.With("action_id", action.ID, "action_type", action.Type)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "action",
		attribute.String(otelhelper.ActionIDKey, action.ID),
		attribute.String(otelhelper.ActionTypeKey, action.Type),
		attribute.Int(otelhelper.ActionOrderKey, action.Order),
	)
	defer span.End()

	startedAt := e.clock.Now()
	result := &models.ActionResult{
		ActionID:   action.ID,
		ActionName: action.Name,
		ActionType: action.Type,
		Order:      action.Order,
		StartedAt:  &startedAt,
	}

	factory, err := e.registry.Factory(action.Type)
	if err != nil {
		return e.failed(ctx, span, logger, result, startedAt, err), nil
	}

	effect, err := factory.Create(ctx, action.Config)
	if err != nil {
		return e.failed(ctx, span, logger, result, startedAt, err), nil
	}

	timeout := e.config.ActionTimeout
	if action.TimeoutSeconds > 0 {
		timeout = time.Duration(action.TimeoutSeconds) * time.Second
	}

	attempt := attempter{
		clock:      e.clock,
		actionID:   action.ID,
		actionType: action.Type,
		policy:     e.config.Retry.WithMaxAttempts(action.MaxAttempts),
		retryable:  factory.Retryable(),
		timeout:    timeout,
		cancel:     run.cancel,
	}

	output, attempts, err := attempt.do(ctx, logger, effect, rc)
	result.Attempts = attempts
	span.SetAttributes(attribute.Int(otelhelper.ActionAttemptKey, attempts))

	if err != nil {
		e.metrics.ActionAttempts(action.Type, string(models.ActionResultFailed), attempts)

		return e.failed(ctx, span, logger, result, startedAt, err), nil
	}

	e.metrics.ActionAttempts(action.Type, string(models.ActionResultSucceeded), attempts)

	result.Status = models.ActionResultSucceeded
	result.Output = output
	result.DurationMs = e.clock.Now().Sub(startedAt).Milliseconds()

	logger.InfoContext(ctx, "Action succeeded", "attempts", attempts, "duration_ms", result.DurationMs)

	return result, output
}

func (e *Engine) failed(
	ctx context.Context, span trace.Span, logger *slog.Logger, result *models.ActionResult, startedAt time.Time, err error,
) *models.ActionResult {
	result.Status = models.ActionResultFailed
	result.Error = err.Error()
	result.Attempts = max(result.Attempts, 1)
	result.DurationMs = e.clock.Now().Sub(startedAt).Milliseconds()

	otelhelper.SetError(span, err)
	logger.WarnContext(ctx, "Action failed", "attempts", result.Attempts, "error", err)

	return result
}

// attempter repeats an action under a retry policy.
type attempter struct {
	clock      clock.Clock
	actionID   string
	actionType string
	policy     RetryPolicy
	retryable  bool
	timeout    time.Duration
	cancel     <-chan struct{}
}

// do returns the output of the first successful attempt, or the last error
// wrapped in an ActionExecutionError.
func (a attempter) do(
	ctx context.Context, logger *slog.Logger, effect protocol.Action, rc *models.RunContext,
) (map[string]any, int, error) {
	for attempt := 1; ; attempt++ {
		rc.Attempt = attempt

		output, err := a.once(ctx, logger, effect, *rc)
		if err == nil {
			return output, attempt, nil
		}

		if !a.policy.ShouldRetry(attempt, a.retryable, err) || a.cancelled() {
			return nil, attempt, a.fail(attempt, err)
		}

		delay := a.policy.Delay(attempt - 1)
		logger.InfoContext(ctx, "Retrying action", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-a.clock.After(delay):
		case <-ctx.Done():
			return nil, attempt, a.fail(attempt, err)
		case <-a.cancel:
			return nil, attempt, a.fail(attempt, err)
		}
	}
}

func (a attempter) once(
	ctx context.Context, logger *slog.Logger, effect protocol.Action, rc models.RunContext,
) (map[string]any, error) {
	actionCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	output, err := effect.Execute(actionCtx, rc, logger)
	if err != nil {
		if errors.Is(actionCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &ExecutionTimeoutError{ActionID: a.actionID, Timeout: a.timeout, Err: err}
		}

		return nil, err
	}

	return output, nil
}

func (a attempter) fail(attempts int, err error) *ActionExecutionError {
	return &ActionExecutionError{
		ActionID:   a.actionID,
		ActionType: a.actionType,
		Attempts:   attempts,
		Retryable:  a.retryable,
		Err:        err,
	}
}

func (a attempter) cancelled() bool {
	select {
	case <-a.cancel:
		return true
	default:
		return false
	}
}

func skipped(action *models.Action, reason string) *models.ActionResult {
	return &models.ActionResult{
		ActionID:   action.ID,
		ActionName: action.Name,
		ActionType: action.Type,
		Order:      action.Order,
		Status:     models.ActionResultSkipped,
		Reason:     reason,
	}
}

// progress persists a non-terminal state. Failures are logged; the final
// Complete carries the full record anyway.
func (e *Engine) progress(ctx context.Context, logger *slog.Logger, run *Run, execution *models.Execution) {
	run.snapshot(execution)

	err := e.executions.Update(context.WithoutCancel(ctx), execution)

	switch {
	case errors.Is(err, persistence.ErrExecutionImmutable):
		e.lose(ctx, logger, run)
	case err != nil:
		logger.ErrorContext(ctx, "Failed to persist execution progress", "error", err)
	case execution.CancelRequested:
		run.requestCancel()
	}
}

// heartbeat stamps liveness every HeartbeatInterval until the returned stop
// function is called.
func (e *Engine) heartbeat(ctx context.Context, logger *slog.Logger, run *Run) func() {
	if e.config.HeartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		for {
			select {
			case <-e.clock.After(e.config.HeartbeatInterval):
				e.beat(ctx, logger, run)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// beat stamps liveness and picks up a cancel request stored by another instance.
func (e *Engine) beat(ctx context.Context, logger *slog.Logger, run *Run) {
	stored, err := e.executions.Heartbeat(context.WithoutCancel(ctx), run.ExecutionID, e.clock.Now())

	switch {
	case errors.Is(err, persistence.ErrExecutionImmutable):
		e.lose(ctx, logger, run)
	case err != nil:
		logger.WarnContext(ctx, "Failed to store heartbeat", "error", err)
	case stored.CancelRequested:
		if !run.cancelRequested() {
			logger.InfoContext(ctx, "Cancel requested by another instance")
		}

		run.requestCancel()
	}
}

// lose stops a run whose stored record was finalised by another instance.
func (e *Engine) lose(ctx context.Context, logger *slog.Logger, run *Run) {
	if run.lost.CompareAndSwap(false, true) {
		logger.WarnContext(ctx, "Execution was finalised by another instance; stopping")
	}

	run.requestCancel()
}

func (e *Engine) complete(ctx context.Context, logger *slog.Logger, run *Run, execution *models.Execution, ran bool) {
	if ran {
		execution.ActionCount = max(execution.ActionCount, len(execution.ActionResults))
	}

	run.snapshot(execution)

	err := e.executions.Complete(context.WithoutCancel(ctx), execution)
	if errors.Is(err, persistence.ErrExecutionImmutable) {
		e.lose(ctx, logger, run)

		if stored, getErr := e.executions.GetByID(context.WithoutCancel(ctx), execution.ID); getErr == nil {
			run.snapshot(stored)
		}

		return
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to store terminal execution", "error", err)
	}

	logger.InfoContext(ctx, "Execution finished", "status", execution.Status, "duration_ms", execution.DurationMs)

	e.finished(ctx, execution, ran)
}

func (e *Engine) finished(ctx context.Context, execution *models.Execution, ran bool) {
	e.metrics.ExecutionFinished(string(execution.Status), time.Duration(execution.DurationMs)*time.Millisecond, ran)

	finished := events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(e.newID(), "", execution.WorkflowID, e.clock.Now()),
		ExecutionID: execution.ID,
		Status:      execution.Status,
		DurationMs:  execution.DurationMs,
	}
	finished.Type = finished.GetType()

	if execution.ErrorMessage != nil {
		finished.Error = *execution.ErrorMessage
	}

	e.publish(context.WithoutCancel(ctx), execution.WorkflowID, finished)
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) forget(run *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.runs, run.ExecutionID)
}
