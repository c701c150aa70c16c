package tasks

import (
	"context"
	"fmt"
)

// newExpireConversationsTask moves stale TEMPLATE_SENT conversations to
// EXPIRED and prunes idle rate-limit windows.
func newExpireConversationsTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "expire_conversations")

	return func(ctx context.Context) error {
		if deps.Pruner != nil {
			if n := deps.Pruner.Prune(); n > 0 {
				log.DebugContext(ctx, "Pruned rate limit windows", "count", n)
			}
		}

		expired, err := deps.Processor.ExpireStaleConversations(ctx)
		if expired > 0 {
			log.InfoContext(ctx, "Expired stale conversations", "count", expired)
		}
		if err != nil {
			return fmt.Errorf("expiry sweep: %w", err)
		}
		return nil
	}
}
