// Package tasks holds the bot's scheduled jobs: mention polling, the
// conversation expiry sweep, and storage maintenance.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/marketbot/internal/config"
	"github.com/edgard/marketbot/internal/conversation"
	"github.com/edgard/marketbot/internal/database"
)

// MentionSource polls the platform for new mentions of the bot.
type MentionSource interface {
	BotUserID() string
	PollMentions(ctx context.Context, sinceID string) (conversation.Batch, error)
	LookupUsername(ctx context.Context, userID string) (string, error)
}

// MessageProcessor advances conversations. Satisfied by *conversation.Manager.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg conversation.Message, username string, inc conversation.Includes) error
	ExpireStaleConversations(ctx context.Context) (int, error)
}

// Locker serializes polling across replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// Pruner drops idle rate-limit windows.
type Pruner interface {
	Prune() int
}

// TaskDeps contains all dependencies required by scheduled tasks.
// Locker and Pruner are optional.
type TaskDeps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     database.Store
	Mentions  MentionSource
	Processor MessageProcessor
	Locker    Locker
	Pruner    Pruner
}
