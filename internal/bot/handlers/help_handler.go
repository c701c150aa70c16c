package handlers

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const helpText = `marketbot console
/status - store health, conversations by state, poll cursor
/conversation <id> - dump one conversation
/sweep - expire stale templates now`

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) bot.HandlerFunc {
	return helpHandler{deps}.Handle
}

type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	reply(ctx, h.deps.Logger.With("handler", "help"), b, update, helpText)
}

// reply answers in the chat the update came from.
func reply(ctx context.Context, log *slog.Logger, b *bot.Bot, update *models.Update, text string) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send console reply", "error", err, "chat_id", chatID)
	}
}
