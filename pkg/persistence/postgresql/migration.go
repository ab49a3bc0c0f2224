package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflows own their actions and triggers
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				category VARCHAR(100) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				failure_policy VARCHAR(20) NOT NULL DEFAULT '',
				max_concurrent INTEGER NOT NULL DEFAULT 0,
				variables JSONB,
				metadata JSONB,
				template_id TEXT NOT NULL DEFAULT '',
				total_runs BIGINT NOT NULL DEFAULT 0,
				successful_runs BIGINT NOT NULL DEFAULT 0,
				failed_runs BIGINT NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_run_status VARCHAR(20) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_category ON workflows(category);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_actions (
				id TEXT NOT NULL,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL DEFAULT '',
				type VARCHAR(100) NOT NULL,
				action_order INTEGER NOT NULL,
				config JSONB,
				condition_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				condition JSONB,
				timeout_seconds INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (workflow_id, id),
				UNIQUE (workflow_id, action_order)
			);

			CREATE TABLE workflow_triggers (
				id TEXT NOT NULL,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				position INTEGER NOT NULL DEFAULT 0,
				name VARCHAR(255) NOT NULL DEFAULT '',
				kind VARCHAR(20) NOT NULL CHECK (kind IN ('schedule', 'event', 'webhook', 'manual', 'condition')),
				schedule TEXT NOT NULL DEFAULT '',
				source VARCHAR(255) NOT NULL DEFAULT '',
				event_type VARCHAR(255) NOT NULL DEFAULT '',
				condition JSONB,
				schema JSONB,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				next_fire_at TIMESTAMP WITH TIME ZONE,
				last_fired_at TIMESTAMP WITH TIME ZONE,
				deactivated_reason TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (workflow_id, id)
			);

			-- Executions reference workflows by id only and outlive them
			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				workflow_name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				triggered_by TEXT NOT NULL,
				trigger_kind VARCHAR(20) NOT NULL DEFAULT '',
				triggered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				error_message TEXT,
				input JSONB,
				action_count INTEGER NOT NULL DEFAULT 0,
				action_results JSONB NOT NULL DEFAULT '[]',
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				CHECK (completed_at IS NULL OR started_at IS NULL OR started_at <= completed_at)
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id, triggered_at DESC);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_triggered_at ON executions(triggered_at);

			CREATE TABLE scheduled_tasks (
				id TEXT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				task_type VARCHAR(100) NOT NULL,
				config JSONB,
				schedule_type VARCHAR(20) NOT NULL CHECK (schedule_type IN ('once', 'recurring')),
				run_at TIMESTAMP WITH TIME ZONE,
				schedule TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				next_run_at TIMESTAMP WITH TIME ZONE,
				run_count BIGINT NOT NULL DEFAULT 0,
				success_count BIGINT NOT NULL DEFAULT 0,
				failure_count BIGINT NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_run_status VARCHAR(20) NOT NULL DEFAULT '',
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_scheduled_tasks_due ON scheduled_tasks(next_run_at) WHERE is_active;
		`,
		2: `
			-- Ownership of in-flight executions across instances
			ALTER TABLE executions ADD COLUMN owner TEXT NOT NULL DEFAULT '';
			ALTER TABLE executions ADD COLUMN heartbeat_at TIMESTAMP WITH TIME ZONE;

			-- Claim marker of once tasks
			ALTER TABLE scheduled_tasks ADD COLUMN claimed_at TIMESTAMP WITH TIME ZONE;
		`,
	}
}
