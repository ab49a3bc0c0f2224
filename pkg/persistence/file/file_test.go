package file

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func testWorkflow(id string, status models.WorkflowStatus) *models.Workflow {
	return &models.Workflow{
		ID:       id,
		Name:     "Workflow " + id,
		Category: "ops",
		Status:   status,
		Actions: []*models.Action{
			{ID: id + "-a1", Name: "first", Type: "log", Order: 0},
		},
		Triggers: []*models.Trigger{
			{ID: id + "-t1", Kind: models.TriggerKindSchedule, Schedule: "0 9 * * *", IsActive: true},
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func terminalExecution(id, workflowID string, status models.ExecutionStatus, at time.Time) *models.Execution {
	started := at
	completed := at.Add(2 * time.Second)

	return &models.Execution{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      status,
		TriggeredBy: models.TriggeredByManual,
		TriggeredAt: at,
		StartedAt:   &started,
		CompletedAt: &completed,
		DurationMs:  2000,
	}
}

func TestPersistence_HealthCheckCreatesRoot(t *testing.T) {
	t.Parallel()

	p := NewPersistence("file://" + t.TempDir() + "/data")
	require.NoError(t, p.HealthCheck(context.Background()))
}

func TestWorkflowRepository_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()

	_, err := repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	workflow := testWorkflow("wf-1", models.WorkflowStatusDraft)
	require.NoError(t, repo.Save(ctx, workflow))

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Workflow wf-1", loaded.Name)
	assert.Equal(t, "wf-1", loaded.Actions[0].WorkflowID)
	assert.Equal(t, "wf-1", loaded.Triggers[0].WorkflowID)

	require.NoError(t, repo.Delete(ctx, "wf-1"))
	require.ErrorIs(t, repo.Delete(ctx, "wf-1"), persistence.ErrWorkflowNotFound)

	_, err = repo.GetByID(ctx, "../etc/passwd")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_ListFiltersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	for i := range 5 {
		workflow := testWorkflow(fmt.Sprintf("wf-%d", i), models.WorkflowStatusActive)
		workflow.CreatedAt = base.Add(time.Duration(i) * time.Minute)

		if i%2 == 0 {
			workflow.Status = models.WorkflowStatusPaused
			workflow.Category = "sales"
		}

		require.NoError(t, repo.Save(ctx, workflow))
	}

	active := models.WorkflowStatusActive

	result, err := repo.List(ctx, persistence.ListWorkflowsOptions{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.Equal(t, "wf-3", result.Workflows[0].ID)

	result, err = repo.List(ctx, persistence.ListWorkflowsOptions{Category: "sales", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.Len(t, result.Workflows, 2)
	assert.True(t, result.HasNextPage)

	result, err = repo.List(ctx, persistence.ListWorkflowsOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Workflows)

	_, err = repo.List(ctx, persistence.ListWorkflowsOptions{SortBy: "name; DROP TABLE workflows; --"})
	require.ErrorIs(t, err, persistence.ErrInvalidSortField)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.WorkflowStatusActive])
	assert.Equal(t, int64(3), counts[models.WorkflowStatusPaused])

	paused, err := repo.ListByStatus(ctx, models.WorkflowStatusPaused)
	require.NoError(t, err)
	assert.Len(t, paused, 3)
}

func TestWorkflowRepository_SaveKeepsCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	workflow := testWorkflow("wf-1", models.WorkflowStatusActive)
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	execution := terminalExecution("ex-1", "wf-1", models.ExecutionStatusRunning, base)
	execution.CompletedAt = nil
	require.NoError(t, p.ExecutionRepository().Create(ctx, execution))

	execution.Status = models.ExecutionStatusCompleted
	completed := base.Add(time.Second)
	execution.CompletedAt = &completed
	require.NoError(t, p.ExecutionRepository().Complete(ctx, execution))

	replacement := testWorkflow("wf-1", models.WorkflowStatusActive)
	replacement.Name = "Renamed"
	replacement.CreatedAt = base.Add(time.Hour)
	require.NoError(t, p.WorkflowRepository().Save(ctx, replacement))

	assert.Equal(t, int64(1), replacement.TotalRuns)
	assert.Equal(t, base, replacement.CreatedAt)

	loaded, err := p.WorkflowRepository().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Name)
	assert.Equal(t, int64(1), loaded.SuccessfulRuns)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.LastRunStatus)
}

func TestWorkflowRepository_SetTriggerState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	require.NoError(t, repo.Save(ctx, testWorkflow("wf-1", models.WorkflowStatusActive)))

	next := base.Add(time.Hour)
	require.NoError(t, repo.SetTriggerState(ctx, "wf-1", "wf-1-t1", persistence.TriggerState{
		IsActive:          false,
		NextFireAt:        &next,
		DeactivatedReason: "no future fire time",
	}))

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, loaded.Triggers[0].IsActive)
	assert.Equal(t, "no future fire time", loaded.Triggers[0].DeactivatedReason)

	err = repo.SetTriggerState(ctx, "wf-1", "nope", persistence.TriggerState{})
	require.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestExecutionRepository_TerminalRecordsAreImmutable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	execution := &models.Execution{
		ID: "ex-1", WorkflowID: "wf-gone", Status: models.ExecutionStatusPending, TriggeredAt: base,
	}
	require.NoError(t, repo.Create(ctx, execution))
	require.ErrorIs(t, repo.Create(ctx, execution), persistence.ErrExecutionAlreadyExists)

	require.NoError(t, execution.Transition(models.ExecutionStatusRunning, base))
	require.NoError(t, repo.Update(ctx, execution))

	require.ErrorIs(t, repo.Complete(ctx, execution), persistence.ErrExecutionNotTerminal)

	require.NoError(t, execution.Fail("boom", base.Add(time.Second)))
	require.NoError(t, repo.Complete(ctx, execution), "a deleted workflow must not block history")

	require.ErrorIs(t, repo.Update(ctx, execution), persistence.ErrExecutionImmutable)
	require.ErrorIs(t, repo.Complete(ctx, execution), persistence.ErrExecutionImmutable)

	loaded, err := repo.GetByID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, loaded.Status)
	require.NotNil(t, loaded.ErrorMessage)
	assert.Equal(t, "boom", *loaded.ErrorMessage)

	_, err = repo.GetByID(ctx, "ex-missing")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionRepository_CompleteIsAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()
	errDisk := errors.New("disk full")

	require.NoError(t, p.WorkflowRepository().Save(ctx, testWorkflow("wf-1", models.WorkflowStatusActive)))

	running := func(id string) *models.Execution {
		execution := &models.Execution{
			ID: id, WorkflowID: "wf-1", Status: models.ExecutionStatusPending, TriggeredAt: base,
		}
		require.NoError(t, repo.Create(ctx, execution))
		require.NoError(t, execution.Transition(models.ExecutionStatusRunning, base))
		require.NoError(t, execution.Transition(models.ExecutionStatusCompleted, base.Add(time.Second)))

		return execution
	}

	counters := func() (int64, int64) {
		workflow, err := p.WorkflowRepository().GetByID(ctx, "wf-1")
		require.NoError(t, err)

		return workflow.TotalRuns, workflow.SuccessfulRuns
	}

	t.Run("counter write fails", func(t *testing.T) {
		execution := running("ex-counters")

		p.workflowRepo.docs.beforeWrite = func(string) error { return errDisk }
		require.ErrorIs(t, repo.Complete(ctx, execution), errDisk)
		p.workflowRepo.docs.beforeWrite = nil

		stored, err := repo.GetByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, stored.Status)

		total, _ := counters()
		assert.Zero(t, total)

		require.NoError(t, repo.Complete(ctx, execution))

		total, successful := counters()
		assert.Equal(t, int64(1), total)
		assert.Equal(t, int64(1), successful)
	})

	t.Run("execution write fails", func(t *testing.T) {
		execution := running("ex-record")

		p.executionRepo.docs.beforeWrite = func(string) error { return errDisk }
		require.ErrorIs(t, repo.Complete(ctx, execution), errDisk)
		p.executionRepo.docs.beforeWrite = nil

		total, _ := counters()
		assert.Equal(t, int64(1), total, "counters must be restored")

		require.NoError(t, repo.Complete(ctx, execution))

		total, successful := counters()
		assert.Equal(t, int64(2), total)
		assert.Equal(t, int64(2), successful)
	})
}

func TestExecutionRepository_CancelRequestAndHeartbeat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	execution := &models.Execution{
		ID: "ex-1", WorkflowID: "wf-gone", Status: models.ExecutionStatusPending, TriggeredAt: base,
		Owner: "instance-a", HeartbeatAt: &base,
	}
	require.NoError(t, repo.Create(ctx, execution))
	require.NoError(t, execution.Transition(models.ExecutionStatusRunning, base))

	requested, err := repo.RequestCancel(ctx, "ex-1")
	require.NoError(t, err)
	assert.True(t, requested.CancelRequested)
	assert.Equal(t, models.ExecutionStatusPending, requested.Status)

	beat, err := repo.Heartbeat(ctx, "ex-1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, beat.CancelRequested)
	require.NotNil(t, beat.HeartbeatAt)
	assert.Equal(t, base.Add(time.Minute), beat.HeartbeatAt.UTC())

	require.NoError(t, repo.Update(ctx, execution))
	assert.True(t, execution.CancelRequested, "progress writes keep a stored cancel request")
	assert.Equal(t, base.Add(time.Minute), execution.HeartbeatAt.UTC())

	require.NoError(t, execution.Transition(models.ExecutionStatusCancelled, base.Add(2*time.Minute)))
	require.NoError(t, repo.Complete(ctx, execution))

	_, err = repo.RequestCancel(ctx, "ex-1")
	require.ErrorIs(t, err, persistence.ErrExecutionImmutable)

	_, err = repo.Heartbeat(ctx, "ex-1", base.Add(3*time.Minute))
	require.ErrorIs(t, err, persistence.ErrExecutionImmutable)

	_, err = repo.Heartbeat(ctx, "ex-missing", base)
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionRepository_ListQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	require.NoError(t, repo.Create(ctx, terminalExecution("ex-1", "wf-1", models.ExecutionStatusCompleted, base)))
	require.NoError(t, repo.Create(ctx, terminalExecution("ex-2", "wf-1", models.ExecutionStatusFailed, base.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, terminalExecution("ex-3", "wf-2", models.ExecutionStatusCompleted, base.Add(2*time.Hour))))
	require.NoError(t, repo.Create(ctx, &models.Execution{
		ID: "ex-4", WorkflowID: "wf-2", Status: models.ExecutionStatusRunning, TriggeredAt: base.Add(3 * time.Hour),
	}))

	result, err := repo.List(ctx, persistence.ExecutionFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, result.Executions, 2)
	assert.Equal(t, "ex-2", result.Executions[0].ID, "newest first")

	completed := models.ExecutionStatusCompleted
	result, err = repo.List(ctx, persistence.ExecutionFilter{Status: &completed, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.True(t, result.HasNextPage)

	since, err := repo.ListSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, since, 3)

	inFlight, err := repo.ListInFlight(ctx)
	require.NoError(t, err)
	require.Len(t, inFlight, 1)
	assert.Equal(t, "ex-4", inFlight[0].ID)
}

func TestExecutionRepository_ConcurrentCompletesCountEveryRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	require.NoError(t, p.WorkflowRepository().Save(ctx, testWorkflow("wf-1", models.WorkflowStatusActive)))

	const runs = 20

	var wg sync.WaitGroup

	for i := range runs {
		execution := &models.Execution{
			ID: fmt.Sprintf("ex-%02d", i), WorkflowID: "wf-1", Status: models.ExecutionStatusRunning, TriggeredAt: base,
		}
		require.NoError(t, p.ExecutionRepository().Create(ctx, execution))

		wg.Add(1)

		go func() {
			defer wg.Done()

			status := models.ExecutionStatusCompleted
			if i%4 == 0 {
				status = models.ExecutionStatusFailed
			}

			assert.NoError(t, execution.Transition(status, base.Add(time.Second)))
			assert.NoError(t, p.ExecutionRepository().Complete(ctx, execution))
		}()
	}

	wg.Wait()

	workflow, err := p.WorkflowRepository().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(runs), workflow.TotalRuns)
	assert.Equal(t, int64(15), workflow.SuccessfulRuns)
	assert.Equal(t, int64(5), workflow.FailedRuns)
}

func TestScheduledTaskRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).ScheduledTaskRepository()

	dueAt := base.Add(-time.Minute)
	later := base.Add(time.Hour)

	require.NoError(t, repo.Save(ctx, &models.ScheduledTask{
		ID: "due", Name: "due task", TaskType: "log", ScheduleType: models.ScheduleTypeOnce,
		RunAt: &dueAt, NextRunAt: &dueAt, IsActive: true, CreatedAt: base,
	}))
	require.NoError(t, repo.Save(ctx, &models.ScheduledTask{
		ID: "later", Name: "later task", TaskType: "log", ScheduleType: models.ScheduleTypeRecurring,
		Schedule: "@hourly", NextRunAt: &later, IsActive: true, CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, repo.Save(ctx, &models.ScheduledTask{
		ID: "inactive", Name: "inactive task", TaskType: "log", ScheduleType: models.ScheduleTypeOnce,
		NextRunAt: &dueAt, IsActive: false, CreatedAt: base.Add(2 * time.Second),
	}))

	tasks, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	assert.Equal(t, "due", tasks[0].ID)

	due, err := repo.DueTasks(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)

	updated, err := repo.Update(ctx, "due", func(task *models.ScheduledTask) error {
		task.IsActive = false
		task.NextRunAt = nil

		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, updated.NextRunAt)

	due, err = repo.DueTasks(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = repo.Update(ctx, "missing", func(*models.ScheduledTask) error { return nil })
	require.ErrorIs(t, err, persistence.ErrScheduledTaskNotFound)

	require.NoError(t, repo.Delete(ctx, "later"))
	_, err = repo.GetByID(ctx, "later")
	require.ErrorIs(t, err, persistence.ErrScheduledTaskNotFound)
}
