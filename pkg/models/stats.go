package models

// WorkflowStats is the dashboard summary derived from workflows, executions and tasks.
type WorkflowStats struct {
	Total              int     `json:"total"`
	Active             int     `json:"active"`
	Paused             int     `json:"paused"`
	Draft              int     `json:"draft"`
	Archived           int     `json:"archived"`
	ExecutionsToday    int     `json:"executions_today"`
	ExecutionsThisWeek int     `json:"executions_this_week"`
	SuccessRate        float64 `json:"success_rate"`
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
	ScheduledTasks     int     `json:"scheduled_tasks"`
	UpcomingTasks      int     `json:"upcoming_tasks"`
}
