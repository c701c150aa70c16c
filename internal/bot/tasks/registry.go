package tasks

import (
	"context"

	"github.com/edgard/marketbot/internal/config"
)

// ScheduledTaskFunc is the signature shared by all scheduled tasks.
// Implementations must honour ctx cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks builds every task keyed by the name used in the
// scheduler.tasks config section.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		config.TaskMentionPoll:         newMentionPollTask(deps),
		config.TaskExpireConversations: newExpireConversationsTask(deps),
		config.TaskSQLMaintenance:      newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
