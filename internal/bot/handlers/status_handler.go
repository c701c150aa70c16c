package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/marketbot/internal/database"
)

var statusOrder = []database.ConversationState{
	database.StateTemplateSent,
	database.StateCreatingMarket,
	database.StateDone,
	database.StateFailed,
	database.StateExpired,
}

// NewStatusHandler returns a handler for the /status command.
func NewStatusHandler(deps HandlerDeps) bot.HandlerFunc {
	return statusHandler{deps}.Handle
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "status")

	text, err := buildStatus(ctx, h.deps.Store)
	if err != nil {
		log.ErrorContext(ctx, "Failed to build status", "error", err)
		text = "Status unavailable: " + err.Error()
	}
	reply(ctx, log, b, update, text)
}

func buildStatus(ctx context.Context, store database.Store) (string, error) {
	if err := store.Ping(ctx); err != nil {
		return "", fmt.Errorf("store ping: %w", err)
	}

	convs, err := store.GetAllConversations(ctx)
	if err != nil {
		return "", fmt.Errorf("list conversations: %w", err)
	}
	counts := make(map[database.ConversationState]int, len(statusOrder))
	for _, c := range convs {
		counts[c.State]++
	}

	cursor, err := store.GetLastMentionID(ctx)
	if err != nil {
		return "", fmt.Errorf("read cursor: %w", err)
	}
	if cursor == "" {
		cursor = "(none)"
	}

	var sb strings.Builder
	sb.WriteString("Store: ok\n")
	fmt.Fprintf(&sb, "Conversations: %d\n", len(convs))
	for _, s := range statusOrder {
		fmt.Fprintf(&sb, "  %s: %d\n", s, counts[s])
	}
	fmt.Fprintf(&sb, "Last mention: %s", cursor)
	return sb.String(), nil
}
