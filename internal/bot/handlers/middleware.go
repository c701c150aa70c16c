// Package handlers contains the operator console commands served over
// Telegram, their registration and middleware, and the event notifier.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const msgNotAuthorized = "You are not authorized to use this command."

// AdminOnly lets only the configured admin through; everyone else gets a
// refusal and the chain stops.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			if update.Message == nil || update.Message.From == nil {
				return
			}

			userID := update.Message.From.ID
			if userID == deps.Config.Telegram.AdminUserID {
				next(ctx, bot, update)
				return
			}

			chatID := update.Message.Chat.ID
			log := deps.Logger.With("middleware", "AdminOnly")
			log.WarnContext(ctx, "Unauthorized console access attempt", "user_id", userID, "chat_id", chatID)

			if _, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: msgNotAuthorized}); err != nil {
				log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", chatID)
			}
		}
	}
}
