package engine

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// TaskResult is the outcome of one scheduled task run.
type TaskResult struct {
	Output     map[string]any
	Attempts   int
	StartedAt  time.Time
	DurationMs int64
	Err        error
}

// Status maps the result to the task run status.
func (r TaskResult) Status() models.TaskRunStatus {
	if r.Err != nil {
		return models.TaskRunFailed
	}

	return models.TaskRunSucceeded
}

// RunTask runs the action named by the task type once, under the same
// timeout and retry discipline as workflow actions.
func (e *Engine) RunTask(ctx context.Context, task *models.ScheduledTask) TaskResult {
	logger := e.logger.With("task_id", task.ID, "task_type", task.TaskType)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "task",
		attribute.String(otelhelper.TaskIDKey, task.ID),
		attribute.String(otelhelper.TaskTypeKey, task.TaskType),
	)
	defer span.End()

	result := TaskResult{StartedAt: e.clock.Now()}

	finish := func(err error) TaskResult {
		result.Err = err
		result.DurationMs = e.clock.Now().Sub(result.StartedAt).Milliseconds()

		if err != nil {
			otelhelper.SetError(span, err)
			logger.WarnContext(ctx, "Scheduled task failed", "attempts", result.Attempts, "error", err)
		} else {
			logger.InfoContext(ctx, "Scheduled task succeeded", "attempts", result.Attempts, "duration_ms", result.DurationMs)
		}

		e.metrics.TaskRun(string(result.Status()))

		return result
	}

	factory, err := e.registry.Factory(task.TaskType)
	if err != nil {
		result.Attempts = 1

		return finish(err)
	}

	effect, err := factory.Create(ctx, task.Config)
	if err != nil {
		result.Attempts = 1

		return finish(err)
	}

	rc := models.RunContext{
		ExecutionID:  task.ID,
		WorkflowName: task.Name,
		Trigger: models.TriggerContext{
			TriggerID: task.ID,
			Kind:      models.TriggerKindSchedule,
			FiredAt:   result.StartedAt,
		},
		Variables: map[string]any{},
		Outputs:   map[string]any{},
	}

	attempt := attempter{
		clock:      e.clock,
		actionID:   task.ID,
		actionType: task.TaskType,
		policy:     e.config.Retry,
		retryable:  factory.Retryable(),
		timeout:    e.config.ActionTimeout,
	}

	output, attempts, err := attempt.do(ctx, logger, effect, &rc)
	result.Output = output
	result.Attempts = attempts
	span.SetAttributes(attribute.Int(otelhelper.ActionAttemptKey, attempts))

	return finish(err)
}
