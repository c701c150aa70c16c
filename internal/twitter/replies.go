package twitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edgard/marketbot/internal/conversation"
	"github.com/edgard/marketbot/internal/template"
)

// Poster publishes a reply and returns its id.
type Poster interface {
	Reply(ctx context.Context, inReplyTo, text string) (string, error)
}

// Replier renders the requester-facing replies and posts them.
type Replier struct {
	poster Poster
	logger *slog.Logger
}

var _ conversation.Replier = (*Replier)(nil)

// NewReplier returns a Replier posting through poster.
func NewReplier(poster Poster, logger *slog.Logger) *Replier {
	return &Replier{poster: poster, logger: logger.With("component", "replier")}
}

// ValidationErrorText lists every field error as a bullet.
func ValidationErrorText(username string, errs []string) string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = "• " + e
	}
	return fmt.Sprintf("@%s Please fix these fields and reply again:\n%s", username, strings.Join(lines, "\n"))
}

// SuccessText announces a created market.
func SuccessText(username, marketURL, question string) string {
	return fmt.Sprintf("@%s Your prediction market is live!\n\n\"%s\"\n\nTrade here: %s", username, question, marketURL)
}

// ErrorText reports a failure the requester cannot fix by editing the template.
func ErrorText(username, msg string) string {
	return fmt.Sprintf("@%s Sorry, something went wrong creating your market: %s", username, msg)
}

// SendTemplate posts the template prompt. It returns "" if the post failed.
func (r *Replier) SendTemplate(ctx context.Context, username, inReplyTo string) string {
	id, err := r.poster.Reply(ctx, inReplyTo, template.BuildTemplatePrompt(username))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to send template", "tweet_id", inReplyTo, "username", username, "error", err)
		return ""
	}
	r.logger.InfoContext(ctx, "Template sent", "tweet_id", inReplyTo, "reply_tweet_id", id, "username", username)
	return id
}

// SendValidationError posts the list of field errors.
func (r *Replier) SendValidationError(ctx context.Context, username, inReplyTo string, errs []string) {
	r.send(ctx, "validation", username, inReplyTo, ValidationErrorText(username, errs))
}

// SendSuccess posts the market link.
func (r *Replier) SendSuccess(ctx context.Context, username, inReplyTo, marketURL, question string) {
	r.send(ctx, "success", username, inReplyTo, SuccessText(username, marketURL, question))
}

// SendError posts a generic failure notice.
func (r *Replier) SendError(ctx context.Context, username, inReplyTo, msg string) {
	r.send(ctx, "error", username, inReplyTo, ErrorText(username, msg))
}

func (r *Replier) send(ctx context.Context, kind, username, inReplyTo, text string) {
	id, err := r.poster.Reply(ctx, inReplyTo, text)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to send reply", "kind", kind, "tweet_id", inReplyTo, "username", username, "error", err)
		return
	}
	r.logger.InfoContext(ctx, "Reply sent", "kind", kind, "tweet_id", inReplyTo, "reply_tweet_id", id, "username", username)
}
