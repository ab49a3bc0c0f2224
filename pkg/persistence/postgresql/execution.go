package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/lib/pq"
)

const executionColumns = `
	id
  , workflow_id
  , workflow_name
  , status
  , triggered_by
  , trigger_kind
  , triggered_at
  , started_at
  , completed_at
  , duration_ms
  , error_message
  , input
  , action_count
  , action_results
  , cancel_requested
  , owner
  , heartbeat_at
`

const terminalStatuses = "('completed', 'failed', 'cancelled')"

// ExecutionRepository stores executions in the executions table.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates an execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	input, results, err := executionJSON(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, workflow_name, status, triggered_by, trigger_kind, triggered_at,
			started_at, completed_at, duration_ms, error_message, input, action_count, action_results, cancel_requested,
			owner, heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowName,
		string(execution.Status),
		execution.TriggeredBy,
		string(execution.TriggerKind),
		execution.TriggeredAt.UTC(),
		utcPtr(execution.StartedAt),
		utcPtr(execution.CompletedAt),
		execution.DurationMs,
		execution.ErrorMessage,
		input,
		execution.ActionCount,
		results,
		execution.CancelRequested,
		execution.Owner,
		utcPtr(execution.HeartbeatAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to insert execution: %w", err))
	}

	return nil
}

// Update persists progress while the stored row is not terminal. A stored
// cancel request and a later heartbeat win over the written values.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	return r.write(ctx, r.db, "Update", execution)
}

// Complete writes the terminal execution and increments the workflow
// counters in one transaction. A deleted workflow is not an error.
func (r *ExecutionRepository) Complete(ctx context.Context, execution *models.Execution) (err error) {
	if !execution.IsTerminal() {
		return persistence.NewExecutionError("Complete", execution.ID, persistence.ErrExecutionNotTerminal)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewExecutionError("Complete", execution.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.write(ctx, tx, "Complete", execution); err != nil {
		return err
	}

	var succeeded, failed int

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		succeeded = 1
	case models.ExecutionStatusFailed:
		failed = 1
	}

	completedAt := execution.TriggeredAt
	if execution.CompletedAt != nil {
		completedAt = *execution.CompletedAt
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflows
		SET total_runs = total_runs + 1,
		    successful_runs = successful_runs + $2,
		    failed_runs = failed_runs + $3,
		    last_run_at = $4,
		    last_run_status = $5
		WHERE id = $1
	`, execution.WorkflowID, succeeded, failed, completedAt.UTC(), string(execution.Status))
	if err != nil {
		return persistence.NewExecutionError("Complete", execution.ID, fmt.Errorf("failed to update workflow counters: %w", err))
	}

	if err = tx.Commit(); err != nil {
		return persistence.NewExecutionError("Complete", execution.ID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// write updates a non-terminal row. Zero affected rows means the row is
// missing or already terminal.
func (r *ExecutionRepository) write(ctx context.Context, q querier, op string, execution *models.Execution) error {
	input, results, err := executionJSON(execution)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE executions
		SET status = $2,
		    started_at = $3,
		    completed_at = $4,
		    duration_ms = $5,
		    error_message = $6,
		    input = $7,
		    action_count = $8,
		    action_results = $9,
		    cancel_requested = cancel_requested OR $10,
		    heartbeat_at = GREATEST(heartbeat_at, $11)
		WHERE id = $1 AND status NOT IN `+terminalStatuses,
		execution.ID,
		string(execution.Status),
		utcPtr(execution.StartedAt),
		utcPtr(execution.CompletedAt),
		execution.DurationMs,
		execution.ErrorMessage,
		input,
		execution.ActionCount,
		results,
		execution.CancelRequested,
		utcPtr(execution.HeartbeatAt),
	)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, fmt.Errorf("failed to update execution: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected > 0 {
		return nil
	}

	return r.missingOrImmutable(ctx, q, op, execution.ID)
}

// RequestCancel flags a non-terminal execution so its owner stops before the next action.
func (r *ExecutionRepository) RequestCancel(ctx context.Context, id string) (*models.Execution, error) {
	return r.mark(ctx, "RequestCancel", id, "cancel_requested = TRUE")
}

// Heartbeat stamps the liveness of a non-terminal execution and returns the stored row.
func (r *ExecutionRepository) Heartbeat(ctx context.Context, id string, at time.Time) (*models.Execution, error) {
	return r.mark(ctx, "Heartbeat", id, "heartbeat_at = $2", at.UTC())
}

// mark applies set to a non-terminal row and returns the updated row.
func (r *ExecutionRepository) mark(ctx context.Context, op, id, set string, args ...any) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "UPDATE executions SET "+set+
		" WHERE id = $1 AND status NOT IN "+terminalStatuses+
		" RETURNING "+executionColumns, append([]any{id}, args...)...)

	execution, err := scanExecution(row)
	if err == nil {
		return execution, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError(op, id, err)
	}

	return nil, r.missingOrImmutable(ctx, r.db, op, id)
}

func (r *ExecutionRepository) missingOrImmutable(ctx context.Context, q querier, op, id string) error {
	var exists bool

	err := q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	if !exists {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError(op, id, persistence.ErrExecutionImmutable)
}

func executionJSON(execution *models.Execution) (any, any, error) {
	input, err := jsonParam(execution.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	results := execution.ActionResults
	if results == nil {
		results = make([]*models.ActionResult, 0)
	}

	encoded, err := jsonParam(results)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal action results: %w", err)
	}

	return input, encoded, nil
}

// GetByID loads one execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// List returns a filtered page of executions, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) (*persistence.ExecutionListResult, error) {
	limit := persistence.NormalizeLimit(filter.Limit)
	offset := max(filter.Offset, 0)

	var (
		conditions []string
		args       []any
	)

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions "+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	pageArgs := append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM executions %s ORDER BY triggered_at DESC, id DESC LIMIT $%d OFFSET $%d",
		executionColumns, where, len(args)+1, len(args)+2)

	executions, err := r.query(ctx, query, pageArgs...)
	if err != nil {
		return nil, err
	}

	return &persistence.ExecutionListResult{
		Executions:  executions,
		TotalCount:  totalCount,
		HasNextPage: int64(offset+len(executions)) < totalCount,
	}, nil
}

// ListSince returns executions triggered at or after since, newest first.
func (r *ExecutionRepository) ListSince(ctx context.Context, since time.Time) ([]*models.Execution, error) {
	return r.query(ctx, "SELECT "+executionColumns+" FROM executions WHERE triggered_at >= $1 ORDER BY triggered_at DESC, id DESC", since.UTC())
}

// ListInFlight returns pending and running executions.
func (r *ExecutionRepository) ListInFlight(ctx context.Context) ([]*models.Execution, error) {
	return r.query(ctx, "SELECT "+executionColumns+" FROM executions WHERE status IN ('pending', 'running') ORDER BY triggered_at")
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		status       string
		triggerKind  string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		heartbeatAt  sql.NullTime
		errorMessage sql.NullString
		input        []byte
		results      []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkflowName,
		&status,
		&execution.TriggeredBy,
		&triggerKind,
		&execution.TriggeredAt,
		&startedAt,
		&completedAt,
		&execution.DurationMs,
		&errorMessage,
		&input,
		&execution.ActionCount,
		&results,
		&execution.CancelRequested,
		&execution.Owner,
		&heartbeatAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.TriggerKind = models.TriggerKind(triggerKind)
	execution.TriggeredAt = execution.TriggeredAt.UTC()
	execution.StartedAt = timePtr(startedAt)
	execution.CompletedAt = timePtr(completedAt)
	execution.HeartbeatAt = timePtr(heartbeatAt)

	if errorMessage.Valid {
		message := errorMessage.String
		execution.ErrorMessage = &message
	}

	if err := decodeJSON(input, &execution.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	execution.ActionResults = make([]*models.ActionResult, 0)
	if err := decodeJSON(results, &execution.ActionResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action results: %w", err)
	}

	return &execution, nil
}
