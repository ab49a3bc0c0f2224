package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

const taskColumns = `
	id
  , name
  , description
  , task_type
  , config
  , schedule_type
  , run_at
  , schedule
  , is_active
  , next_run_at
  , claimed_at
  , run_count
  , success_count
  , failure_count
  , last_run_at
  , last_run_status
  , last_error
  , created_at
  , updated_at
`

// ScheduledTaskRepository stores scheduled tasks.
type ScheduledTaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduledTaskRepository creates a scheduled task repository.
func NewScheduledTaskRepository(db *sql.DB, logger *slog.Logger) *ScheduledTaskRepository {
	return &ScheduledTaskRepository{db: db, logger: logger}
}

// List returns every task ordered by creation time.
func (r *ScheduledTaskRepository) List(ctx context.Context) ([]*models.ScheduledTask, error) {
	return r.query(ctx, "SELECT "+taskColumns+" FROM scheduled_tasks ORDER BY created_at, id")
}

// DueTasks returns active tasks due at now, earliest first.
func (r *ScheduledTaskRepository) DueTasks(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	return r.query(ctx, "SELECT "+taskColumns+` FROM scheduled_tasks
		WHERE is_active AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at, id`, now.UTC())
}

// GetByID loads one task.
func (r *ScheduledTaskRepository) GetByID(ctx context.Context, id string) (*models.ScheduledTask, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewScheduledTaskError("GetByID", id, persistence.ErrScheduledTaskNotFound)
		}

		return nil, persistence.NewScheduledTaskError("GetByID", id, err)
	}

	return task, nil
}

// Save upserts the task as given.
func (r *ScheduledTaskRepository) Save(ctx context.Context, task *models.ScheduledTask) error {
	if err := upsertTask(ctx, r.db, task); err != nil {
		return persistence.NewScheduledTaskError("Save", task.ID, err)
	}

	return nil
}

// Delete removes a task.
func (r *ScheduledTaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = $1", id)
	if err != nil {
		return persistence.NewScheduledTaskError("Delete", id, fmt.Errorf("failed to delete scheduled task: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewScheduledTaskError("Delete", id, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return persistence.NewScheduledTaskError("Delete", id, persistence.ErrScheduledTaskNotFound)
	}

	return nil
}

// Update applies fn to the row locked with SELECT ... FOR UPDATE.
func (r *ScheduledTaskRepository) Update(
	ctx context.Context, id string, fn func(task *models.ScheduledTask) error,
) (task *models.ScheduledTask, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewScheduledTaskError("Update", id, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	task, err = scanTask(tx.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewScheduledTaskError("Update", id, persistence.ErrScheduledTaskNotFound)
		}

		return nil, persistence.NewScheduledTaskError("Update", id, err)
	}

	if err = fn(task); err != nil {
		return nil, err
	}

	task.ID = id

	if err = upsertTask(ctx, tx, task); err != nil {
		return nil, persistence.NewScheduledTaskError("Update", id, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, persistence.NewScheduledTaskError("Update", id, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return task, nil
}

func upsertTask(ctx context.Context, q querier, task *models.ScheduledTask) error {
	config, err := jsonParam(task.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, name, description, task_type, config, schedule_type, run_at, schedule,
			is_active, next_run_at, claimed_at, run_count, success_count, failure_count, last_run_at,
			last_run_status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			task_type = EXCLUDED.task_type,
			config = EXCLUDED.config,
			schedule_type = EXCLUDED.schedule_type,
			run_at = EXCLUDED.run_at,
			schedule = EXCLUDED.schedule,
			is_active = EXCLUDED.is_active,
			next_run_at = EXCLUDED.next_run_at,
			claimed_at = EXCLUDED.claimed_at,
			run_count = EXCLUDED.run_count,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			last_run_at = EXCLUDED.last_run_at,
			last_run_status = EXCLUDED.last_run_status,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`,
		task.ID,
		task.Name,
		task.Description,
		task.TaskType,
		config,
		string(task.ScheduleType),
		utcPtr(task.RunAt),
		task.Schedule,
		task.IsActive,
		utcPtr(task.NextRunAt),
		utcPtr(task.ClaimedAt),
		task.RunCount,
		task.SuccessCount,
		task.FailureCount,
		utcPtr(task.LastRunAt),
		string(task.LastRunStatus),
		task.LastError,
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save scheduled task: %w", err)
	}

	return nil
}

func (r *ScheduledTaskRepository) query(ctx context.Context, query string, args ...any) ([]*models.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled tasks: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	tasks := make([]*models.ScheduledTask, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled task: %w", err)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled tasks: %w", err)
	}

	return tasks, nil
}

func scanTask(row scanner) (*models.ScheduledTask, error) {
	var (
		task          models.ScheduledTask
		config        []byte
		scheduleType  string
		lastRunStatus string
		runAt         sql.NullTime
		nextRunAt     sql.NullTime
		claimedAt     sql.NullTime
		lastRunAt     sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.Description,
		&task.TaskType,
		&config,
		&scheduleType,
		&runAt,
		&task.Schedule,
		&task.IsActive,
		&nextRunAt,
		&claimedAt,
		&task.RunCount,
		&task.SuccessCount,
		&task.FailureCount,
		&lastRunAt,
		&lastRunStatus,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ScheduleType = models.ScheduleType(scheduleType)
	task.LastRunStatus = models.TaskRunStatus(lastRunStatus)
	task.RunAt = timePtr(runAt)
	task.NextRunAt = timePtr(nextRunAt)
	task.ClaimedAt = timePtr(claimedAt)
	task.LastRunAt = timePtr(lastRunAt)
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()

	if err := decodeJSON(config, &task.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &task, nil
}
