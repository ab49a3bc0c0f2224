package models_test

import (
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_CanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from     models.WorkflowStatus
		to       models.WorkflowStatus
		expected bool
	}{
		{models.WorkflowStatusDraft, models.WorkflowStatusActive, true},
		{models.WorkflowStatusDraft, models.WorkflowStatusPaused, false},
		{models.WorkflowStatusActive, models.WorkflowStatusPaused, true},
		{models.WorkflowStatusActive, models.WorkflowStatusActive, false},
		{models.WorkflowStatusPaused, models.WorkflowStatusActive, true},
		{models.WorkflowStatusPaused, models.WorkflowStatusArchived, true},
		{models.WorkflowStatusArchived, models.WorkflowStatusActive, false},
		{models.WorkflowStatusArchived, models.WorkflowStatusDraft, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()

			workflow := &models.Workflow{Status: tt.from}
			assert.Equal(t, tt.expected, workflow.CanTransitionTo(tt.to))
		})
	}
}

func TestWorkflow_SortedActions(t *testing.T) {
	t.Parallel()

	workflow := &models.Workflow{
		Actions: []*models.Action{
			{ID: "c", Order: 3},
			{ID: "a", Order: 1},
			{ID: "b", Order: 2},
		},
	}

	sorted := workflow.SortedActions()
	require.Len(t, sorted, 3)
	assert.Equal(t, "a", sorted[0].ID)
	assert.Equal(t, "b", sorted[1].ID)
	assert.Equal(t, "c", sorted[2].ID)
	assert.Equal(t, "c", workflow.Actions[0].ID)
}

func TestWorkflow_Defaults(t *testing.T) {
	t.Parallel()

	workflow := &models.Workflow{}
	assert.Equal(t, models.FailurePolicyStop, workflow.EffectiveFailurePolicy())
	assert.Equal(t, 1, workflow.EffectiveMaxConcurrent())

	workflow.FailurePolicy = models.FailurePolicyContinue
	workflow.MaxConcurrent = 3
	assert.Equal(t, models.FailurePolicyContinue, workflow.EffectiveFailurePolicy())
	assert.Equal(t, 3, workflow.EffectiveMaxConcurrent())
}

func TestWorkflow_RecordRun(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	workflow := &models.Workflow{}

	workflow.RecordRun(models.ExecutionStatusCompleted, at)
	workflow.RecordRun(models.ExecutionStatusFailed, at.Add(time.Hour))
	workflow.RecordRun(models.ExecutionStatusCancelled, at.Add(2*time.Hour))

	assert.Equal(t, int64(3), workflow.TotalRuns)
	assert.Equal(t, int64(1), workflow.SuccessfulRuns)
	assert.Equal(t, int64(1), workflow.FailedRuns)
	assert.Equal(t, models.ExecutionStatusCancelled, workflow.LastRunStatus)
	require.NotNil(t, workflow.LastRunAt)
	assert.Equal(t, at.Add(2*time.Hour), *workflow.LastRunAt)
}

func TestWorkflow_Validation(t *testing.T) {
	t.Parallel()

	validate := validator.New()

	valid := &models.Workflow{
		Name:   "Nightly report",
		Status: models.WorkflowStatusDraft,
		Actions: []*models.Action{
			{Type: "log", Order: 1},
		},
		Triggers: []*models.Trigger{
			{Kind: models.TriggerKindSchedule, Schedule: "0 9 * * *"},
		},
	}
	require.NoError(t, validate.Struct(valid))

	invalid := &models.Workflow{
		Name:     "ab",
		Status:   models.WorkflowStatusDraft,
		Triggers: []*models.Trigger{{Kind: "poll"}},
	}
	require.Error(t, validate.Struct(invalid))
}

func TestExecution_Transition(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	execution := models.NewExecution("exec-1", &models.Workflow{ID: "wf-1", Name: "wf"}, models.ManualTrigger(nil, start), start)

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, models.TriggeredByManual, execution.TriggeredBy)

	require.NoError(t, execution.Transition(models.ExecutionStatusRunning, start))
	require.NotNil(t, execution.StartedAt)

	require.ErrorIs(t, execution.Transition(models.ExecutionStatusPending, start), models.ErrInvalidTransition)

	require.NoError(t, execution.Fail("boom", start.Add(1500*time.Millisecond)))
	assert.Equal(t, int64(1500), execution.DurationMs)
	require.NotNil(t, execution.ErrorMessage)
	assert.Equal(t, "boom", *execution.ErrorMessage)
	assert.False(t, execution.CompletedAt.Before(*execution.StartedAt))

	require.ErrorIs(t, execution.Transition(models.ExecutionStatusCompleted, start), models.ErrInvalidTransition)
}

func TestExecution_PendingCancel(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	execution := models.NewExecution("exec-1", &models.Workflow{ID: "wf-1"}, models.TriggerContext{TriggerID: "t-1"}, at)

	require.NoError(t, execution.Transition(models.ExecutionStatusCancelled, at))
	assert.Nil(t, execution.StartedAt)
	assert.Equal(t, int64(0), execution.DurationMs)
	assert.Equal(t, "t-1", execution.TriggeredBy)
}

func TestExecution_Clone(t *testing.T) {
	t.Parallel()

	execution := &models.Execution{
		ID: "exec-1",
		ActionResults: []*models.ActionResult{
			{ActionID: "a", Output: map[string]any{"k": "v"}},
		},
	}

	clone := execution.Clone()
	clone.ActionResults[0].Output["k"] = "changed"
	clone.ActionResults = append(clone.ActionResults, &models.ActionResult{ActionID: "b"})

	assert.Equal(t, "v", execution.ActionResults[0].Output["k"])
	assert.Len(t, execution.ActionResults, 1)
}

func TestExecution_SkipRemaining(t *testing.T) {
	t.Parallel()

	actions := []*models.Action{
		{ID: "a1", Type: "log", Order: 1},
		{ID: "a2", Type: "log", Order: 2},
		{ID: "a3", Type: "log", Order: 3},
	}
	execution := &models.Execution{ActionResults: []*models.ActionResult{
		{ActionID: "a1", Status: models.ActionResultFailed},
	}}

	execution.SkipRemaining(actions, models.SkipReasonPreviousFailed)

	require.Len(t, execution.ActionResults, 3)
	assert.Equal(t, "a2", execution.ActionResults[1].ActionID)
	assert.Equal(t, models.ActionResultSkipped, execution.ActionResults[2].Status)
	assert.Equal(t, models.SkipReasonPreviousFailed, execution.ActionResults[2].Reason)
}

func TestScheduledTask_RecordRun(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	task := &models.ScheduledTask{ScheduleType: models.ScheduleTypeOnce, IsActive: true, NextRunAt: &at}

	assert.True(t, task.IsDue(at))
	assert.False(t, task.IsDue(at.Add(-time.Second)))

	task.RecordRun(at, assert.AnError)
	assert.Equal(t, models.TaskRunFailed, task.LastRunStatus)
	assert.Equal(t, int64(1), task.FailureCount)
	assert.True(t, task.Fired())

	task.RecordRun(at, nil)
	assert.Equal(t, models.TaskRunSucceeded, task.LastRunStatus)
	assert.Empty(t, task.LastError)
	assert.Equal(t, int64(2), task.RunCount)
}

func TestScheduledTask_FiredOnceClaimed(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	once := &models.ScheduledTask{ScheduleType: models.ScheduleTypeOnce}
	assert.False(t, once.Fired())

	once.ClaimedAt = &at
	assert.True(t, once.Fired(), "a claimed run counts before its outcome is recorded")

	recurring := &models.ScheduledTask{ScheduleType: models.ScheduleTypeRecurring, ClaimedAt: &at, RunCount: 3}
	assert.False(t, recurring.Fired())
}

func TestExecution_StaleAndMergeStored(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	later := at.Add(time.Minute)

	orphan := &models.Execution{TriggeredAt: at}
	assert.True(t, orphan.Stale(at.Add(-time.Hour)), "no owner is always stale")

	owned := &models.Execution{TriggeredAt: at, Owner: "a"}
	assert.False(t, owned.Stale(at))
	assert.True(t, owned.Stale(at.Add(time.Second)))

	owned.HeartbeatAt = &later
	assert.False(t, owned.Stale(at.Add(time.Second)))

	stored := &models.Execution{CancelRequested: true, HeartbeatAt: &later}
	local := &models.Execution{HeartbeatAt: &at}
	local.MergeStored(stored)
	assert.True(t, local.CancelRequested)
	assert.Equal(t, later, *local.HeartbeatAt)

	local.MergeStored(&models.Execution{HeartbeatAt: &at})
	assert.True(t, local.CancelRequested)
	assert.Equal(t, later, *local.HeartbeatAt)
}

func TestTrigger_EventKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stripe/payment.succeeded", (&models.Trigger{Source: "stripe", EventType: "payment.succeeded"}).EventKey())
	assert.Equal(t, "*/*", (&models.Trigger{}).EventKey())
	assert.True(t, (&models.Trigger{Kind: models.TriggerKindCondition}).IsInbound())
	assert.False(t, (&models.Trigger{Kind: models.TriggerKindSchedule}).IsInbound())
}
