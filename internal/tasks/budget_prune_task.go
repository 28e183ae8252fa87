package tasks

import (
	"context"
	"fmt"
	"time"
)

// Counters older than this are no longer needed for enforcement.
const budgetRetention = 7 * 24 * time.Hour

// newBudgetPruneTask creates the task that deletes expired budget counters.
func newBudgetPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "budget_prune")

	return func(ctx context.Context) error {
		cutoff := time.Now().In(deps.Location).Add(-budgetRetention).Format("2006-01-02")

		pruned, err := deps.Store.PruneBudgetCounters(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "budget prune failed", "error", err)
			return fmt.Errorf("budget prune failed: %w", err)
		}

		log.InfoContext(ctx, "budget counters pruned", "before_day", cutoff, "rows", pruned)
		return nil
	}
}
