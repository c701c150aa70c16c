package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/marketbot/internal/database"
	"github.com/edgard/marketbot/internal/logger"
)

// Telegram rejects messages longer than this.
const maxMessageLength = 4096

// NewConversationHandler returns a handler for the /conversation command.
func NewConversationHandler(deps HandlerDeps) bot.HandlerFunc {
	return conversationHandler{deps}.Handle
}

type conversationHandler struct {
	deps HandlerDeps
}

func (h conversationHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	log := h.deps.Logger.With("handler", "conversation")

	text, err := describeConversation(ctx, h.deps.Store, commandArg(update.Message.Text))
	if err != nil {
		log.ErrorContext(ctx, "Failed to load conversation", "error", err)
		text = "Lookup failed: " + err.Error()
	}
	reply(ctx, log, b, update, text)
}

// commandArg returns what follows the command word.
func commandArg(text string) string {
	_, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	return strings.TrimSpace(arg)
}

func describeConversation(ctx context.Context, store database.Store, id string) (string, error) {
	if id == "" {
		return "Usage: /conversation <id>", nil
	}
	conv, err := store.GetConversation(ctx, id)
	if err != nil {
		return "", err
	}
	if conv == nil {
		return fmt.Sprintf("Conversation %s not found.", id), nil
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}
	return logger.Truncate(string(data), maxMessageLength), nil
}
