package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/lib/pq"
)

const workflowColumns = `
	id
  , name
  , description
  , category
  , status
  , failure_policy
  , max_concurrent
  , variables
  , metadata
  , template_id
  , total_runs
  , successful_runs
  , failed_runs
  , last_run_at
  , last_run_status
  , created_at
  , updated_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

// List returns a filtered page of workflows.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	limit := persistence.NormalizeLimit(opts.Limit)

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	column, ok := sortColumns[opts.SortBy]
	if !ok {
		return nil, persistence.NewWorkflowError("List", "", fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy))
	}

	direction := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		direction = "ASC"
	}

	var (
		conditions []string
		args       []any
	)

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if opts.Category != "" {
		args = append(args, opts.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	pageArgs := append(args, limit, max(opts.Offset, 0))
	query := fmt.Sprintf("SELECT %s FROM workflows %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d",
		workflowColumns, where, column, direction, len(args)+1, len(args)+2)

	workflows, err := r.query(ctx, query, pageArgs...)
	if err != nil {
		return nil, err
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  totalCount,
		HasNextPage: int64(max(opts.Offset, 0)+len(workflows)) < totalCount,
	}, nil
}

// ListByStatus returns every workflow in status.
func (r *WorkflowRepository) ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	return r.query(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE status = $1 ORDER BY created_at", string(status))
}

// CountByStatus counts workflows per status.
func (r *WorkflowRepository) CountByStatus(ctx context.Context) (map[models.WorkflowStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM workflows GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	counts := make(map[models.WorkflowStatus]int64)

	for rows.Next() {
		var (
			status string
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan workflow count: %w", err)
		}

		counts[models.WorkflowStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow counts: %w", err)
	}

	return counts, nil
}

// GetByID loads a workflow with its actions and triggers.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if err := r.loadChildren(ctx, []*models.Workflow{workflow}); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	if err := r.loadChildren(ctx, workflows); err != nil {
		return nil, err
	}

	return workflows, nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		status        string
		failurePolicy string
		lastRunStatus string
		variables     []byte
		metadata      []byte
		lastRunAt     sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Category,
		&status,
		&failurePolicy,
		&workflow.MaxConcurrent,
		&variables,
		&metadata,
		&workflow.TemplateID,
		&workflow.TotalRuns,
		&workflow.SuccessfulRuns,
		&workflow.FailedRuns,
		&lastRunAt,
		&lastRunStatus,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Status = models.WorkflowStatus(status)
	workflow.FailurePolicy = models.FailurePolicy(failurePolicy)
	workflow.LastRunStatus = models.ExecutionStatus(lastRunStatus)
	workflow.LastRunAt = timePtr(lastRunAt)
	workflow.CreatedAt = workflow.CreatedAt.UTC()
	workflow.UpdatedAt = workflow.UpdatedAt.UTC()
	workflow.Actions = make([]*models.Action, 0)
	workflow.Triggers = make([]*models.Trigger, 0)

	if err := decodeJSON(variables, &workflow.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	if err := decodeJSON(metadata, &workflow.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &workflow, nil
}

// loadChildren attaches actions and triggers to a page of workflows with one query each.
func (r *WorkflowRepository) loadChildren(ctx context.Context, workflows []*models.Workflow) error {
	if len(workflows) == 0 {
		return nil
	}

	byID := make(map[string]*models.Workflow, len(workflows))
	ids := make([]string, 0, len(workflows))

	for _, workflow := range workflows {
		byID[workflow.ID] = workflow
		ids = append(ids, workflow.ID)
	}

	if err := r.loadActions(ctx, ids, byID); err != nil {
		return err
	}

	return r.loadTriggers(ctx, ids, byID)
}

func (r *WorkflowRepository) loadActions(ctx context.Context, ids []string, byID map[string]*models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, type, action_order, config, condition_enabled, condition, timeout_seconds, max_attempts
		FROM workflow_actions
		WHERE workflow_id = ANY($1)
		ORDER BY workflow_id, action_order
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query workflow actions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			action    models.Action
			config    []byte
			condition []byte
		)

		err := rows.Scan(
			&action.ID,
			&action.WorkflowID,
			&action.Name,
			&action.Type,
			&action.Order,
			&config,
			&action.ConditionEnabled,
			&condition,
			&action.TimeoutSeconds,
			&action.MaxAttempts,
		)
		if err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}

		if err := decodeJSON(config, &action.Config); err != nil {
			return fmt.Errorf("failed to unmarshal action configuration: %w", err)
		}

		if err := decodeJSON(condition, &action.Condition); err != nil {
			return fmt.Errorf("failed to unmarshal action condition: %w", err)
		}

		if workflow, ok := byID[action.WorkflowID]; ok {
			workflow.Actions = append(workflow.Actions, &action)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating actions: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) loadTriggers(ctx context.Context, ids []string, byID map[string]*models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, kind, schedule, source, event_type, condition, schema,
		       is_active, next_fire_at, last_fired_at, deactivated_reason
		FROM workflow_triggers
		WHERE workflow_id = ANY($1)
		ORDER BY workflow_id, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query workflow triggers: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			trigger     models.Trigger
			kind        string
			condition   []byte
			schema      []byte
			nextFireAt  sql.NullTime
			lastFiredAt sql.NullTime
		)

		err := rows.Scan(
			&trigger.ID,
			&trigger.WorkflowID,
			&trigger.Name,
			&kind,
			&trigger.Schedule,
			&trigger.Source,
			&trigger.EventType,
			&condition,
			&schema,
			&trigger.IsActive,
			&nextFireAt,
			&lastFiredAt,
			&trigger.DeactivatedReason,
		)
		if err != nil {
			return fmt.Errorf("failed to scan trigger: %w", err)
		}

		trigger.Kind = models.TriggerKind(kind)
		trigger.NextFireAt = timePtr(nextFireAt)
		trigger.LastFiredAt = timePtr(lastFiredAt)

		if err := decodeJSON(condition, &trigger.Condition); err != nil {
			return fmt.Errorf("failed to unmarshal trigger condition: %w", err)
		}

		if err := decodeJSON(schema, &trigger.Schema); err != nil {
			return fmt.Errorf("failed to unmarshal trigger schema: %w", err)
		}

		if workflow, ok := byID[trigger.WorkflowID]; ok {
			workflow.Triggers = append(workflow.Triggers, &trigger)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating triggers: %w", err)
	}

	return nil
}

// Save upserts the workflow and replaces its actions and triggers in one
// transaction. Run counters and created_at are never overwritten; the stored
// values are copied back into workflow.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	variables, err := jsonParam(workflow.Variables)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to marshal variables: %w", err))
	}

	metadata, err := jsonParam(workflow.Metadata)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to marshal metadata: %w", err))
	}

	var (
		lastRunAt     sql.NullTime
		lastRunStatus string
	)

	err = tx.QueryRowContext(ctx, `
		INSERT INTO workflows (id, name, description, category, status, failure_policy, max_concurrent,
			variables, metadata, template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			status = EXCLUDED.status,
			failure_policy = EXCLUDED.failure_policy,
			max_concurrent = EXCLUDED.max_concurrent,
			variables = EXCLUDED.variables,
			metadata = EXCLUDED.metadata,
			template_id = EXCLUDED.template_id,
			updated_at = EXCLUDED.updated_at
		RETURNING total_runs, successful_runs, failed_runs, last_run_at, last_run_status, created_at
	`,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Category,
		string(workflow.Status),
		string(workflow.FailurePolicy),
		workflow.MaxConcurrent,
		variables,
		metadata,
		workflow.TemplateID,
		workflow.CreatedAt.UTC(),
		workflow.UpdatedAt.UTC(),
	).Scan(&workflow.TotalRuns, &workflow.SuccessfulRuns, &workflow.FailedRuns, &lastRunAt, &lastRunStatus, &workflow.CreatedAt)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to save workflow base: %w", err))
	}

	workflow.LastRunAt = timePtr(lastRunAt)
	workflow.LastRunStatus = models.ExecutionStatus(lastRunStatus)
	workflow.CreatedAt = workflow.CreatedAt.UTC()

	// Delete existing children (for updates)
	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_actions WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to delete existing actions: %w", err))
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_triggers WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to delete existing triggers: %w", err))
	}

	if err = saveActions(ctx, tx, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err = saveTriggers(ctx, tx, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func saveActions(ctx context.Context, tx querier, workflow *models.Workflow) error {
	for _, action := range workflow.Actions {
		action.WorkflowID = workflow.ID

		config, err := jsonParam(action.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal action configuration: %w", err)
		}

		condition, err := jsonParam(action.Condition)
		if err != nil {
			return fmt.Errorf("failed to marshal action condition: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_actions (id, workflow_id, name, type, action_order, config,
				condition_enabled, condition, timeout_seconds, max_attempts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			action.ID,
			workflow.ID,
			action.Name,
			action.Type,
			action.Order,
			config,
			action.ConditionEnabled,
			condition,
			action.TimeoutSeconds,
			action.MaxAttempts,
		)
		if err != nil {
			return fmt.Errorf("failed to save action %s: %w", action.ID, err)
		}
	}

	return nil
}

func saveTriggers(ctx context.Context, tx querier, workflow *models.Workflow) error {
	for position, trigger := range workflow.Triggers {
		trigger.WorkflowID = workflow.ID

		condition, err := jsonParam(trigger.Condition)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger condition: %w", err)
		}

		schema, err := jsonParam(trigger.Schema)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger schema: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_triggers (id, workflow_id, position, name, kind, schedule, source, event_type,
				condition, schema, is_active, next_fire_at, last_fired_at, deactivated_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			trigger.ID,
			workflow.ID,
			position,
			trigger.Name,
			string(trigger.Kind),
			trigger.Schedule,
			trigger.Source,
			trigger.EventType,
			condition,
			schema,
			trigger.IsActive,
			utcPtr(trigger.NextFireAt),
			utcPtr(trigger.LastFiredAt),
			trigger.DeactivatedReason,
		)
		if err != nil {
			return fmt.Errorf("failed to save trigger %s: %w", trigger.ID, err)
		}
	}

	return nil
}

// Delete removes the workflow; actions and triggers cascade, executions stay.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, fmt.Errorf("failed to delete workflow: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SetTriggerState updates the runtime columns of one trigger.
func (r *WorkflowRepository) SetTriggerState(ctx context.Context, workflowID, triggerID string, state persistence.TriggerState) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_triggers
		SET is_active = $3, next_fire_at = $4, last_fired_at = $5, deactivated_reason = $6
		WHERE workflow_id = $1 AND id = $2
	`, workflowID, triggerID, state.IsActive, utcPtr(state.NextFireAt), utcPtr(state.LastFiredAt), state.DeactivatedReason)
	if err != nil {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, fmt.Errorf("failed to update trigger: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected > 0 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)", workflowID).Scan(&exists)
	if err != nil {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, err)
	}

	if !exists {
		return persistence.NewWorkflowError("SetTriggerState", workflowID, persistence.ErrWorkflowNotFound)
	}

	return persistence.NewWorkflowError("SetTriggerState", workflowID, persistence.ErrTriggerNotFound)
}
