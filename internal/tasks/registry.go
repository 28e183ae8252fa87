package tasks

import "context"

// ScheduledTaskFunc is the standard signature for all scheduled tasks. The
// context provided by the scheduler must be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks initializes and returns the map of scheduled tasks. Map
// keys match the task names used in the scheduler configuration section.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		"engine_tick":     newEngineTickTask(deps),
		"auto_post":       newAutoPostTask(deps),
		"budget_prune":    newBudgetPruneTask(deps),
		"sql_maintenance": newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("initialized scheduled tasks", "count", len(tasks))

	return tasks
}
