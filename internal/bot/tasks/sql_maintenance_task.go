package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask compacts the store.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting storage maintenance")
		startTime := time.Now()

		err := deps.Store.RunMaintenance(ctx)
		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "Storage maintenance failed", "error", err, "duration", duration)
			return fmt.Errorf("storage maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Storage maintenance completed", "duration", duration)
		return nil
	}
}
