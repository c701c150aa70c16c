package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgard/marketbot/internal/cache/redis"
	"github.com/edgard/marketbot/internal/config"
	"github.com/edgard/marketbot/internal/conversation"
)

const (
	unknownUsername = "unknown"
	defaultLockTTL  = 2 * time.Minute
)

// newMentionPollTask fetches mentions newer than the stored cursor, feeds
// them to the processor oldest first, then advances the cursor.
func newMentionPollTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.TaskMentionPoll)

	lockTTL := defaultLockTTL
	if deps.Config != nil && deps.Config.Redis.LockTTL > 0 {
		lockTTL = deps.Config.Redis.LockTTL
	}

	return func(ctx context.Context) error {
		if deps.Locker != nil {
			release, err := deps.Locker.Acquire(ctx, config.TaskMentionPoll, lockTTL)
			if errors.Is(err, redis.ErrLockHeld) {
				log.DebugContext(ctx, "Poll lock held elsewhere, skipping")
				return nil
			}
			if err != nil {
				return fmt.Errorf("acquire poll lock: %w", err)
			}
			defer release()
		}

		sinceID, err := deps.Store.GetLastMentionID(ctx)
		if err != nil {
			return fmt.Errorf("load mention cursor: %w", err)
		}

		batch, err := deps.Mentions.PollMentions(ctx, sinceID)
		if err != nil {
			return fmt.Errorf("poll mentions: %w", err)
		}

		botID := deps.Mentions.BotUserID()
		processed := 0
		for _, msg := range batch.OldestFirst() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if msg.AuthorID == botID {
				continue
			}

			username := resolveUsername(ctx, log, deps.Mentions, batch.Includes, msg.AuthorID)
			if err := deps.Processor.ProcessMessage(ctx, msg, username, batch.Includes); err != nil {
				log.ErrorContext(ctx, "Failed to process mention", "tweet_id", msg.ID, "error", err)
				continue
			}
			processed++
		}

		if batch.NewestID != "" && batch.NewestID != sinceID {
			if err := deps.Store.SetLastMentionID(ctx, batch.NewestID); err != nil {
				return fmt.Errorf("save mention cursor: %w", err)
			}
		}

		if len(batch.Messages) > 0 {
			log.InfoContext(ctx, "Processed mentions", "received", len(batch.Messages), "processed", processed, "cursor", batch.NewestID)
		}
		return nil
	}
}

func resolveUsername(ctx context.Context, log *slog.Logger, src MentionSource, inc conversation.Includes, userID string) string {
	if name, ok := inc.Username(userID); ok {
		return name
	}
	name, err := src.LookupUsername(ctx, userID)
	if err != nil || name == "" {
		log.WarnContext(ctx, "Could not resolve username", "user_id", userID, "error", err)
		return unknownUsername
	}
	return name
}
