// Package stats derives the dashboard counters from the stores. It never writes.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

const (
	// Window is the rolling period behind executions_this_week and success_rate.
	Window = 7 * 24 * time.Hour

	// UpcomingHorizon bounds which tasks count as upcoming.
	UpcomingHorizon = 24 * time.Hour
)

// Aggregator computes WorkflowStats on demand.
type Aggregator struct {
	store persistence.Persistence
	clock clock.Clock
}

func New(store persistence.Persistence, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.System{}
	}

	return &Aggregator{store: store, clock: clk}
}

// Compute returns the current counters. An empty history yields zeros.
func (a *Aggregator) Compute(ctx context.Context) (*models.WorkflowStats, error) {
	now := a.clock.Now().UTC()

	counts, err := a.store.WorkflowRepository().CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	stats := &models.WorkflowStats{
		Active:   int(counts[models.WorkflowStatusActive]),
		Paused:   int(counts[models.WorkflowStatusPaused]),
		Draft:    int(counts[models.WorkflowStatusDraft]),
		Archived: int(counts[models.WorkflowStatusArchived]),
	}

	for _, n := range counts {
		stats.Total += int(n)
	}

	executions, err := a.store.ExecutionRepository().ListSince(ctx, now.Add(-Window))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}

	foldExecutions(stats, executions, startOfDay(now))

	tasks, err := a.store.ScheduledTaskRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}

	stats.ScheduledTasks = len(tasks)

	horizon := now.Add(UpcomingHorizon)

	for _, task := range tasks {
		if task.IsActive && task.NextRunAt != nil && !task.NextRunAt.After(horizon) {
			stats.UpcomingTasks++
		}
	}

	return stats, nil
}

// foldExecutions fills the execution counters. Success rate is a percentage
// of terminal executions; average duration covers completed and failed runs.
func foldExecutions(stats *models.WorkflowStats, executions []*models.Execution, today time.Time) {
	var (
		terminal, succeeded int
		timed               int
		totalMs             int64
	)

	for _, execution := range executions {
		stats.ExecutionsThisWeek++

		if !execution.TriggeredAt.Before(today) {
			stats.ExecutionsToday++
		}

		if !execution.IsTerminal() {
			continue
		}

		terminal++

		switch execution.Status {
		case models.ExecutionStatusCompleted:
			succeeded++
		case models.ExecutionStatusFailed:
		default:
			continue
		}

		if execution.StartedAt != nil {
			timed++
			totalMs += execution.DurationMs
		}
	}

	if terminal > 0 {
		stats.SuccessRate = round(float64(succeeded) / float64(terminal) * 100)
	}

	if timed > 0 {
		stats.AvgExecutionTimeMs = round(float64(totalMs) / float64(timed))
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
