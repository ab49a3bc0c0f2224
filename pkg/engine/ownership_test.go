package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancel_ExecutionOwnedByPeer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig())
	peer := f.peer(t, fastConfig())
	workflow := f.saveWorkflow(t, "wf-remote-cancel", models.FailurePolicyStop, "echo", "gate", "echo", "echo")

	run, err := f.engine.Start(context.Background(), workflow, manual(nil))
	require.NoError(t, err)
	f.gate.waitStarted(t)

	requested, err := peer.Cancel(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, requested.Status)
	assert.True(t, requested.CancelRequested)

	stored, err := f.store.ExecutionRepository().GetByID(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
	assert.True(t, stored.CancelRequested)

	f.gate.open()

	execution, err := f.engine.Wait(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, []models.ActionResultStatus{
		models.ActionResultSucceeded,
		models.ActionResultSucceeded,
		models.ActionResultSkipped,
		models.ActionResultSkipped,
	}, statuses(execution))

	stored, err = f.store.ExecutionRepository().GetByID(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Len(t, stored.ActionResults, 4)

	counted, err := f.store.WorkflowRepository().GetByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counted.TotalRuns)
}

func TestCancel_StaleOwnerIsFinalisedDirectly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig())
	workflow := f.saveWorkflow(t, "wf-stale-cancel", models.FailurePolicyStop, "echo", "echo")

	now := time.Now().UTC()
	crashed := models.NewExecution("exec-crashed", workflow, manual(nil), now.Add(-time.Hour))
	crashed.Owner = "crashed-instance"
	heartbeat := now.Add(-time.Hour)
	crashed.HeartbeatAt = &heartbeat
	require.NoError(t, crashed.Transition(models.ExecutionStatusRunning, heartbeat))
	require.NoError(t, f.store.ExecutionRepository().Create(context.Background(), crashed))

	cancelled, err := f.engine.Cancel(context.Background(), crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)

	stored, err := f.store.ExecutionRepository().GetByID(context.Background(), crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
}

func TestRecover_LeavesLiveExecutionsOfPeers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig())
	peer := f.peer(t, fastConfig())
	workflow := f.saveWorkflow(t, "wf-live", models.FailurePolicyStop, "gate", "echo")

	run, err := f.engine.Start(context.Background(), workflow, manual(nil))
	require.NoError(t, err)
	f.gate.waitStarted(t)

	recovered, err := peer.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)

	stored, err := f.store.ExecutionRepository().GetByID(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)

	f.gate.open()

	execution, err := f.engine.Wait(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestRecover_ReclaimsOnlyStaleOwners(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig())
	workflow := f.saveWorkflow(t, "wf-owners", models.FailurePolicyStop, "echo")

	now := time.Now().UTC()

	stored := func(id, owner string, heartbeat time.Time) {
		execution := models.NewExecution(id, workflow, manual(nil), heartbeat)
		execution.Owner = owner
		execution.HeartbeatAt = &heartbeat
		require.NoError(t, execution.Transition(models.ExecutionStatusRunning, heartbeat))
		require.NoError(t, f.store.ExecutionRepository().Create(context.Background(), execution))
	}

	stored("exec-stale", "crashed-instance", now.Add(-engine.DefaultStaleAfter-time.Minute))
	stored("exec-alive", "busy-instance", now)

	recovered, err := f.engine.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	stale, err := f.store.ExecutionRepository().GetByID(context.Background(), "exec-stale")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stale.Status)

	alive, err := f.store.ExecutionRepository().GetByID(context.Background(), "exec-alive")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, alive.Status)
}

func TestRun_StopsWhenFinalisedElsewhere(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig())
	workflow := f.saveWorkflow(t, "wf-taken", models.FailurePolicyStop, "gate", "echo", "echo")

	run, err := f.engine.Start(context.Background(), workflow, manual(nil))
	require.NoError(t, err)
	f.gate.waitStarted(t)

	takenOver, err := f.store.ExecutionRepository().GetByID(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	takenOver.SkipRemaining(workflow.SortedActions(), models.SkipReasonInterrupted)
	require.NoError(t, takenOver.Fail("execution interrupted before completion", time.Now().UTC()))
	require.NoError(t, f.store.ExecutionRepository().Complete(context.Background(), takenOver))

	f.gate.open()

	execution, err := f.engine.Wait(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.SkipReasonInterrupted, execution.ActionResults[0].Reason)

	counted, err := f.store.WorkflowRepository().GetByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counted.TotalRuns)
	assert.Equal(t, int64(1), counted.FailedRuns)
}

func TestRecoverLoop_ReclaimsExecutionsThatGoStale(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig())
	workflow := f.saveWorkflow(t, "wf-loop", models.FailurePolicyStop, "echo")

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	config := fastConfig()
	config.StaleAfter = time.Minute
	reaper := engine.New(discardLogger(), f.registry, f.store, clk, config)

	execution := models.NewExecution("exec-silent", workflow, manual(nil), now)
	execution.Owner = "silent-instance"
	execution.HeartbeatAt = &now
	require.NoError(t, execution.Transition(models.ExecutionStatusRunning, now))
	require.NoError(t, f.store.ExecutionRepository().Create(context.Background(), execution))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- reaper.RecoverLoop(ctx) }()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, 5*time.Second, time.Millisecond)
	clk.Advance(time.Minute)

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, 5*time.Second, time.Millisecond)

	stored, err := f.store.ExecutionRepository().GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status, "a heartbeat exactly StaleAfter old is still live")

	clk.Advance(time.Minute)

	require.Eventually(t, func() bool {
		stored, err := f.store.ExecutionRepository().GetByID(context.Background(), execution.ID)

		return err == nil && stored.Status == models.ExecutionStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
