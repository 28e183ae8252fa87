package tasks

import (
	"context"
	"fmt"
	"time"
)

// newEngineTickTask creates the task that drives timed funnel transitions.
func newEngineTickTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "engine_tick")

	return func(ctx context.Context) error {
		start := time.Now()

		if err := deps.Engine.OnTick(ctx); err != nil {
			log.ErrorContext(ctx, "engine tick failed", "error", err, "duration", time.Since(start))
			return fmt.Errorf("engine tick failed: %w", err)
		}

		log.DebugContext(ctx, "engine tick completed", "duration", time.Since(start))
		return nil
	}
}
