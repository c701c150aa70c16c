package handlers

import (
	"context"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/marketbot/internal/conversation"
	"github.com/edgard/marketbot/internal/database"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

// Notifier posts market outcomes to the operator chat.
type Notifier struct {
	sender messageSender
	chatID int64
	logger *slog.Logger
}

var _ conversation.Notifier = (*Notifier)(nil)

// NewNotifier returns a Notifier posting to chatID through sender.
func NewNotifier(sender messageSender, chatID int64, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, chatID: chatID, logger: logger.With("component", "notifier")}
}

// NotifyMarketCreated reports a DONE conversation.
func (n *Notifier) NotifyMarketCreated(ctx context.Context, conv *database.Conversation) error {
	return n.send(ctx, createdText(conv))
}

// NotifyMarketFailed reports a FAILED conversation.
func (n *Notifier) NotifyMarketFailed(ctx context.Context, conv *database.Conversation) error {
	return n.send(ctx, failedText(conv))
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if n.chatID == 0 {
		return nil
	}
	if _, err := n.sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: n.chatID, Text: text}); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	n.logger.DebugContext(ctx, "Notification sent", "chat_id", n.chatID)
	return nil
}

func question(conv *database.Conversation) string {
	if conv.Params == nil {
		return "(no question)"
	}
	return conv.Params.Question
}

func createdText(conv *database.Conversation) string {
	url := ""
	if conv.MarketResult != nil {
		url = conv.MarketResult.URL
	}
	return fmt.Sprintf("Market created for @%s\n%s\n%s", conv.Username, question(conv), url)
}

func failedText(conv *database.Conversation) string {
	return fmt.Sprintf("Market creation failed for @%s\n%s\nError: %s", conv.Username, question(conv), conv.ErrorMessage)
}
