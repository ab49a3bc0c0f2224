package postgresql_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	postgresContainer *postgres.PostgresContainer
	containerMu       sync.Mutex
)

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"workflow_triggers", "workflow_actions", "workflows", "executions", "scheduled_tasks", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	containerMu.Lock()
	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("autoflow_test"),
			postgres.WithUsername("autoflow"),
			postgres.WithPassword("autoflow"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerMu.Unlock()
			require.NoError(t, err)
		}
	}
	containerMu.Unlock()

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

var base = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newWorkflow() *models.Workflow {
	id := uuid.NewString()

	return &models.Workflow{
		ID:            id,
		Name:          "Invoice follow-up",
		Description:   "A test workflow",
		Category:      "finance",
		Status:        models.WorkflowStatusActive,
		FailurePolicy: models.FailurePolicyContinue,
		MaxConcurrent: 2,
		Variables:     map[string]any{"test_var": "test_value"},
		Metadata:      map[string]any{"created_by": "test"},
		Actions: []*models.Action{
			{ID: uuid.NewString(), Name: "second", Type: "log", Order: 1, Config: map[string]any{"message": "two"}},
			{
				ID: uuid.NewString(), Name: "first", Type: "log", Order: 0, Config: map[string]any{"message": "one"},
				ConditionEnabled: true,
				Condition:        &condition.Condition{Field: "input.amount", Operator: condition.OperatorGreaterThan, Value: 10.0},
				TimeoutSeconds:   5,
				MaxAttempts:      2,
			},
		},
		Triggers: []*models.Trigger{
			{ID: uuid.NewString(), Kind: models.TriggerKindSchedule, Schedule: "0 9 * * *", IsActive: true},
			{
				ID: uuid.NewString(), Kind: models.TriggerKindCondition, Source: "billing", EventType: "invoice.paid", IsActive: true,
				Condition: &condition.Condition{Field: "amount", Operator: condition.OperatorGreaterThan, Value: 1000.0},
				Schema:    map[string]any{"type": "object", "properties": map[string]any{"amount": map[string]any{"type": "number"}}},
			},
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "workflow_actions", "workflow_triggers", "executions", "scheduled_tasks"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, postgresql.Migrate(ctx, logger, db), "migrations are idempotent")
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := newWorkflow()
	require.NoError(t, repo.Save(ctx, workflow))

	retrieved, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.Name, retrieved.Name)
	assert.Equal(t, models.FailurePolicyContinue, retrieved.FailurePolicy)
	assert.Equal(t, 2, retrieved.MaxConcurrent)
	assert.Equal(t, "test_value", retrieved.Variables["test_var"])
	assert.Equal(t, base, retrieved.CreatedAt)

	require.Len(t, retrieved.Actions, 2)
	assert.Equal(t, "first", retrieved.Actions[0].Name, "actions come back in pipeline order")
	assert.True(t, retrieved.Actions[0].ConditionEnabled)
	require.NotNil(t, retrieved.Actions[0].Condition)
	assert.Equal(t, condition.OperatorGreaterThan, retrieved.Actions[0].Condition.Operator)

	require.Len(t, retrieved.Triggers, 2)
	assert.Equal(t, models.TriggerKindSchedule, retrieved.Triggers[0].Kind)
	assert.Equal(t, "billing", retrieved.Triggers[1].Source)
	assert.NotNil(t, retrieved.Triggers[1].Schema)

	_, err = repo.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_DuplicateActionOrderIsRejected(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow()
	workflow.Actions[1].Order = workflow.Actions[0].Order

	require.Error(t, p.WorkflowRepository().Save(ctx, workflow))

	_, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound, "failed save must roll back")
}

func TestWorkflowRepository_DeleteCascadesButKeepsExecutions(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	workflow := newWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	execution := models.NewExecution(uuid.NewString(), workflow, models.ManualTrigger(nil, base), base)
	require.NoError(t, p.ExecutionRepository().Create(ctx, execution))

	require.NoError(t, p.WorkflowRepository().Delete(ctx, workflow.ID))
	require.ErrorIs(t, p.WorkflowRepository().Delete(ctx, workflow.ID), persistence.ErrWorkflowNotFound)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var children int

	err = db.QueryRowContext(ctx,
		"SELECT (SELECT COUNT(*) FROM workflow_actions) + (SELECT COUNT(*) FROM workflow_triggers)").Scan(&children)
	require.NoError(t, err)
	assert.Zero(t, children)

	kept, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, kept.WorkflowID)
}

func TestWorkflowRepository_ListAndCounts(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	for i := range 3 {
		workflow := newWorkflow()
		workflow.CreatedAt = base.Add(time.Duration(i) * time.Minute)

		if i == 0 {
			workflow.Status = models.WorkflowStatusDraft
			workflow.Category = "ops"
		}

		require.NoError(t, repo.Save(ctx, workflow))
	}

	active := models.WorkflowStatusActive

	result, err := repo.List(ctx, persistence.ListWorkflowsOptions{Status: &active, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.Len(t, result.Workflows, 1)
	assert.True(t, result.HasNextPage)
	assert.Len(t, result.Workflows[0].Actions, 2)

	result, err = repo.List(ctx, persistence.ListWorkflowsOptions{Category: "ops"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalCount)

	_, err = repo.List(ctx, persistence.ListWorkflowsOptions{SortBy: "name; DROP TABLE workflows; --"})
	require.ErrorIs(t, err, persistence.ErrInvalidSortField)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.WorkflowStatusActive])
	assert.Equal(t, int64(1), counts[models.WorkflowStatusDraft])

	activeWorkflows, err := repo.ListByStatus(ctx, models.WorkflowStatusActive)
	require.NoError(t, err)
	assert.Len(t, activeWorkflows, 2)
}

func TestWorkflowRepository_SetTriggerState(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := newWorkflow()
	require.NoError(t, repo.Save(ctx, workflow))

	next := base.Add(time.Hour)
	require.NoError(t, repo.SetTriggerState(ctx, workflow.ID, workflow.Triggers[0].ID, persistence.TriggerState{
		IsActive: true, NextFireAt: &next, LastFiredAt: &base,
	}))

	retrieved, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.Triggers[0].NextFireAt)
	assert.Equal(t, next, *retrieved.Triggers[0].NextFireAt)

	err = repo.SetTriggerState(ctx, workflow.ID, uuid.NewString(), persistence.TriggerState{})
	require.ErrorIs(t, err, persistence.ErrTriggerNotFound)

	err = repo.SetTriggerState(ctx, uuid.NewString(), uuid.NewString(), persistence.TriggerState{})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestExecutionRepository_CompleteUpdatesCountersAtomically(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	executions := p.ExecutionRepository()

	execution := models.NewExecution(uuid.NewString(), workflow, models.ManualTrigger(map[string]any{"amount": 12.0}, base), base)
	require.NoError(t, executions.Create(ctx, execution))
	require.ErrorIs(t, executions.Create(ctx, execution), persistence.ErrExecutionAlreadyExists)

	require.NoError(t, execution.Transition(models.ExecutionStatusRunning, base))
	execution.AppendResult(&models.ActionResult{
		ActionID: workflow.Actions[1].ID, ActionType: "log", Status: models.ActionResultSucceeded, Attempts: 1,
	})
	require.NoError(t, executions.Update(ctx, execution))

	require.NoError(t, execution.Fail("second action failed", base.Add(3*time.Second)))
	require.NoError(t, executions.Complete(ctx, execution))

	require.ErrorIs(t, executions.Update(ctx, execution), persistence.ErrExecutionImmutable)

	stored, err := executions.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, int64(3000), stored.DurationMs)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "second action failed", *stored.ErrorMessage)
	require.Len(t, stored.ActionResults, 1)
	assert.InDelta(t, 12.0, stored.Input["amount"], 0.001)

	updated, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.TotalRuns)
	assert.Equal(t, int64(1), updated.FailedRuns)
	assert.Equal(t, models.ExecutionStatusFailed, updated.LastRunStatus)

	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))
	assert.Equal(t, int64(1), workflow.TotalRuns, "save must not reset counters")
}

func TestExecutionRepository_CancelRequestAndHeartbeat(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow()
	executions := p.ExecutionRepository()

	execution := models.NewExecution(uuid.NewString(), workflow, models.ManualTrigger(nil, base), base)
	execution.Owner = "instance-a"
	execution.HeartbeatAt = &base
	require.NoError(t, executions.Create(ctx, execution))
	require.NoError(t, execution.Transition(models.ExecutionStatusRunning, base))

	requested, err := executions.RequestCancel(ctx, execution.ID)
	require.NoError(t, err)
	assert.True(t, requested.CancelRequested)
	assert.Equal(t, "instance-a", requested.Owner)

	beat, err := executions.Heartbeat(ctx, execution.ID, base.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, beat.HeartbeatAt)
	assert.True(t, beat.HeartbeatAt.Equal(base.Add(time.Minute)))

	require.NoError(t, executions.Update(ctx, execution))

	stored, err := executions.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.True(t, stored.CancelRequested, "progress writes keep a stored cancel request")
	assert.True(t, stored.HeartbeatAt.Equal(base.Add(time.Minute)))

	require.NoError(t, execution.Transition(models.ExecutionStatusCancelled, base.Add(2*time.Minute)))
	require.NoError(t, executions.Complete(ctx, execution))

	_, err = executions.RequestCancel(ctx, execution.ID)
	require.ErrorIs(t, err, persistence.ErrExecutionImmutable)

	_, err = executions.Heartbeat(ctx, uuid.NewString(), base)
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionRepository_Queries(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow()
	executions := p.ExecutionRepository()

	for i := range 3 {
		execution := models.NewExecution(uuid.NewString(), workflow, models.ManualTrigger(nil, base), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, executions.Create(ctx, execution))
	}

	result, err := executions.List(ctx, persistence.ExecutionFilter{WorkflowID: workflow.ID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.HasNextPage)
	assert.Equal(t, base.Add(2*time.Hour), result.Executions[0].TriggeredAt)

	since, err := executions.ListSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, since, 2)

	inFlight, err := executions.ListInFlight(ctx)
	require.NoError(t, err)
	assert.Len(t, inFlight, 3)

	_, err = executions.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestScheduledTaskRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ScheduledTaskRepository()

	runAt := base.Add(-time.Minute)
	task := &models.ScheduledTask{
		ID: uuid.NewString(), Name: "nightly report", TaskType: "log", Config: map[string]any{"message": "hi"},
		ScheduleType: models.ScheduleTypeOnce, RunAt: &runAt, NextRunAt: &runAt, IsActive: true,
		CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, repo.Save(ctx, task))

	due, err := repo.DueTasks(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "hi", due[0].Config["message"])

	claimed, err := repo.Update(ctx, task.ID, func(stored *models.ScheduledTask) error {
		claimedAt := base
		stored.ClaimedAt = &claimedAt
		stored.IsActive = false
		stored.NextRunAt = nil
		stored.RecordRun(base, nil)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimed.RunCount)

	due, err = repo.DueTasks(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	stored, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.NextRunAt)
	require.NotNil(t, stored.ClaimedAt)
	assert.True(t, stored.ClaimedAt.Equal(base))
	assert.Equal(t, models.TaskRunSucceeded, stored.LastRunStatus)

	tasks, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	require.NoError(t, repo.Delete(ctx, task.ID))
	require.ErrorIs(t, repo.Delete(ctx, task.ID), persistence.ErrScheduledTaskNotFound)
}
