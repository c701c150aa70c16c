package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/marketbot/internal/config"
	"github.com/edgard/marketbot/internal/database"
)

// Sweeper runs the conversation expiry sweep on demand.
type Sweeper interface {
	ExpireStaleConversations(ctx context.Context) (int, error)
}

// HandlerDeps provides dependencies for the operator console handlers.
type HandlerDeps struct {
	Logger  *slog.Logger
	Config  *config.Config
	Store   database.Store
	Sweeper Sweeper
}
