package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewSweepHandler returns a handler for the /sweep command.
func NewSweepHandler(deps HandlerDeps) bot.HandlerFunc {
	return sweepHandler{deps}.Handle
}

type sweepHandler struct {
	deps HandlerDeps
}

func (h sweepHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "sweep")

	n, err := h.deps.Sweeper.ExpireStaleConversations(ctx)
	text := fmt.Sprintf("Expired %d conversation(s).", n)
	if err != nil {
		log.ErrorContext(ctx, "Manual sweep failed", "expired", n, "error", err)
		text += " Errors: " + err.Error()
	} else {
		log.InfoContext(ctx, "Manual sweep finished", "expired", n)
	}
	reply(ctx, log, b, update, text)
}
