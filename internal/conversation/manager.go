// Package conversation drives a market request from the first mention to the
// created market: deduplication, correlation of template replies, admission,
// validation, the image pipeline and the market-creation call.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/marketbot/internal/database"
	"github.com/edgard/marketbot/internal/intent"
	"github.com/edgard/marketbot/internal/market"
	"github.com/edgard/marketbot/internal/template"
)

// DefaultTTL is how long a requester has to fill in a template.
const DefaultTTL = time.Hour

// Reply texts the manager itself decides on.
const (
	msgImageFailed   = "Failed to upload image. Please try again."
	msgUnknownFailed = "Unknown error"
)

// Replier posts the four kinds of reply. SendTemplate returns the id of the
// posted reply, or "" when the post failed; the other sends swallow failures.
type Replier interface {
	SendTemplate(ctx context.Context, username, inReplyTo string) string
	SendValidationError(ctx context.Context, username, inReplyTo string, errs []string)
	SendSuccess(ctx context.Context, username, inReplyTo, marketURL, question string)
	SendError(ctx context.Context, username, inReplyTo, msg string)
}

// Admission decides whether a requester may start a new market.
type Admission interface {
	Admit(ctx context.Context, userID, username string) bool
}

// ImageFetcher downloads an attached image.
type ImageFetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// ImageUploader stores image bytes and returns a content-addressed URI.
type ImageUploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// MarketCreator creates the market on the external backend.
type MarketCreator interface {
	CreateMarket(ctx context.Context, req market.Request) market.Result
}

// Notifier receives terminal outcomes after they are persisted.
type Notifier interface {
	NotifyMarketCreated(ctx context.Context, conv *database.Conversation) error
	NotifyMarketFailed(ctx context.Context, conv *database.Conversation) error
}

// ManagerDeps wires a Manager. Logger, Notifier, Now, NewID and TTL are optional.
type ManagerDeps struct {
	Logger        *slog.Logger
	Store         database.Store
	Replier       Replier
	Admission     Admission
	Images        ImageFetcher
	Uploader      ImageUploader
	Markets       MarketCreator
	Intent        intent.Detector
	Notifier      Notifier
	Now           func() time.Time
	NewID         func() string
	MarketBaseURL string
	TTL           time.Duration
}

// Manager is the conversation state machine. ProcessMessage and
// ExpireStaleConversations are serialized by an internal lock.
type Manager struct {
	mu sync.Mutex

	logger        *slog.Logger
	store         database.Store
	replier       Replier
	admission     Admission
	images        ImageFetcher
	uploader      ImageUploader
	markets       MarketCreator
	intent        intent.Detector
	notifier      Notifier
	now           func() time.Time
	newID         func() string
	marketBaseURL string
	ttl           time.Duration
}

// NewManager builds a Manager from deps.
func NewManager(deps ManagerDeps) *Manager {
	m := &Manager{
		logger:        deps.Logger,
		store:         deps.Store,
		replier:       deps.Replier,
		admission:     deps.Admission,
		images:        deps.Images,
		uploader:      deps.Uploader,
		markets:       deps.Markets,
		intent:        deps.Intent,
		notifier:      deps.Notifier,
		now:           deps.Now,
		newID:         deps.NewID,
		marketBaseURL: deps.MarketBaseURL,
		ttl:           deps.TTL,
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m.logger = m.logger.With("component", "conversation_manager")
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.intent == nil {
		m.intent = intent.RegexDetector{}
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	return m
}

// ProcessMessage handles one inbound message. Only store failures are
// returned; collaborator failures are logged and, where the requester can act
// on them, answered with an error reply.
func (m *Manager) ProcessMessage(ctx context.Context, msg Message, username string, inc Includes) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logger.With("tweet_id", msg.ID, "user_id", msg.AuthorID, "username", username)

	done, err := m.store.IsProcessed(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("check processed %s: %w", msg.ID, err)
	}
	if done {
		log.DebugContext(ctx, "Message already processed, skipping")
		return nil
	}
	if err := m.store.MarkProcessed(ctx, msg.ID); err != nil {
		return fmt.Errorf("mark processed %s: %w", msg.ID, err)
	}

	if msg.ReplyToID != "" {
		conv, err := m.store.GetConversationByTemplateReplyID(ctx, msg.ReplyToID)
		if err != nil {
			return fmt.Errorf("lookup conversation for reply %s: %w", msg.ReplyToID, err)
		}
		if conv != nil && conv.State == database.StateTemplateSent {
			if !conv.IsExpired(m.now()) {
				return m.handleFilledTemplate(ctx, log, conv, msg, username, inc)
			}
			if err := m.expire(ctx, conv); err != nil {
				return err
			}
			log.InfoContext(ctx, "Reply arrived after the template window closed", "conversation_id", conv.ID)
		}
	}

	imageURL := inc.ImageURL(msg)
	if parsed := template.Parse(msg.Text, imageURL != "", m.now()); parsed.Success {
		return m.handleStandalone(ctx, log, msg, username, imageURL, parsed)
	}

	if m.intent.IsCreateMarketIntent(ctx, msg.Text) {
		return m.handleNewRequest(ctx, log, msg, username)
	}

	log.DebugContext(ctx, "Message carries no market request")
	return nil
}

func (m *Manager) handleNewRequest(ctx context.Context, log *slog.Logger, msg Message, username string) error {
	if !m.admission.Admit(ctx, msg.AuthorID, username) {
		return nil
	}

	replyID := m.replier.SendTemplate(ctx, username, msg.ID)
	if replyID == "" {
		log.WarnContext(ctx, "Template reply was not posted, dropping request")
		return nil
	}

	conv := database.NewTemplateConversation(m.newID(), msg.ID, replyID, msg.AuthorID, username, m.now(), m.ttl)
	if err := m.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}

	log.InfoContext(ctx, "Template sent", "conversation_id", conv.ID, "template_reply_id", replyID)
	return nil
}

func (m *Manager) handleFilledTemplate(ctx context.Context, log *slog.Logger, conv *database.Conversation, msg Message, username string, inc Includes) error {
	log = log.With("conversation_id", conv.ID)

	if err := conv.RecordFilledReply(msg.ID, m.now()); err != nil {
		return err
	}

	imageURL := inc.ImageURL(msg)
	parsed := template.Parse(msg.Text, imageURL != "", m.now())
	if !parsed.Success {
		if err := m.store.SaveConversation(ctx, conv); err != nil {
			return fmt.Errorf("save conversation %s: %w", conv.ID, err)
		}
		log.InfoContext(ctx, "Template reply failed validation", "errors", parsed.Errors)
		m.replier.SendValidationError(ctx, username, msg.ID, parsed.Errors)
		return nil
	}

	imageURI, ok := m.resolveImage(ctx, log, imageURL)
	if !ok {
		m.replier.SendError(ctx, username, msg.ID, msgImageFailed)
		return nil
	}
	parsed.Params.ImageURI = imageURI

	if err := conv.StartCreating(parsed.Params, parsed.FeeReceiverWallet, m.now()); err != nil {
		return err
	}
	if err := m.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}

	return m.createMarket(ctx, log, conv, msg.ID)
}

func (m *Manager) handleStandalone(ctx context.Context, log *slog.Logger, msg Message, username, imageURL string, parsed template.Result) error {
	log.InfoContext(ctx, "Standalone submission received")

	if !m.admission.Admit(ctx, msg.AuthorID, username) {
		return nil
	}

	imageURI, ok := m.resolveImage(ctx, log, imageURL)
	if !ok {
		m.replier.SendError(ctx, username, msg.ID, msgImageFailed)
		return nil
	}
	parsed.Params.ImageURI = imageURI

	conv, err := database.NewStandaloneConversation(m.newID(), msg.ID, msg.AuthorID, username, parsed.Params, parsed.FeeReceiverWallet, m.now(), m.ttl)
	if err != nil {
		return err
	}
	if err := m.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}

	return m.createMarket(ctx, log.With("conversation_id", conv.ID), conv, msg.ID)
}

// resolveImage downloads the attachment and uploads it to the content store.
func (m *Manager) resolveImage(ctx context.Context, log *slog.Logger, imageURL string) (string, bool) {
	data, contentType, err := m.images.Download(ctx, imageURL)
	if err != nil {
		log.ErrorContext(ctx, "Failed to download image", "image_url", imageURL, "error", err)
		return "", false
	}
	uri, err := m.uploader.Upload(ctx, data, contentType)
	if err != nil {
		log.ErrorContext(ctx, "Failed to upload image", "image_url", imageURL, "error", err)
		return "", false
	}
	log.DebugContext(ctx, "Image uploaded", "image_uri", uri, "bytes", len(data))
	return uri, true
}

// createMarket runs the external call for a conversation in CREATING_MARKET,
// persists the outcome and then replies to replyTo.
func (m *Manager) createMarket(ctx context.Context, log *slog.Logger, conv *database.Conversation, replyTo string) error {
	res := m.markets.CreateMarket(ctx, market.Request{
		Params:            conv.Params,
		FeeReceiverWallet: conv.FeeReceiverWallet,
	})

	if res.Success {
		url := market.URL(m.marketBaseURL, res.MarketPDA)
		if err := conv.Complete(&database.MarketResult{
			MarketID:   res.MarketID,
			MarketPDA:  res.MarketPDA,
			Signatures: res.Signatures,
			URL:        url,
		}, m.now()); err != nil {
			return err
		}
		if err := m.store.SaveConversation(ctx, conv); err != nil {
			return fmt.Errorf("save conversation %s: %w", conv.ID, err)
		}
		log.InfoContext(ctx, "Market created", "market_id", res.MarketID, "market_url", url)
		m.replier.SendSuccess(ctx, conv.Username, replyTo, url, conv.Params.Question)
		m.notify(ctx, log, conv)
		return nil
	}

	reason := res.Error
	if reason == "" {
		reason = msgUnknownFailed
	}
	if err := conv.Fail(reason, m.now()); err != nil {
		return err
	}
	if err := m.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	log.WarnContext(ctx, "Market creation failed", "error", reason)
	m.replier.SendError(ctx, conv.Username, replyTo, reason)
	m.notify(ctx, log, conv)
	return nil
}

func (m *Manager) notify(ctx context.Context, log *slog.Logger, conv *database.Conversation) {
	if m.notifier == nil {
		return
	}
	var err error
	if conv.State == database.StateDone {
		err = m.notifier.NotifyMarketCreated(ctx, conv)
	} else {
		err = m.notifier.NotifyMarketFailed(ctx, conv)
	}
	if err != nil {
		log.WarnContext(ctx, "Failed to send operator notification", "error", err)
	}
}

func (m *Manager) expire(ctx context.Context, conv *database.Conversation) error {
	if err := conv.Expire(m.now()); err != nil {
		return err
	}
	if err := m.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// ExpireStaleConversations moves every TEMPLATE_SENT conversation whose window
// has closed to EXPIRED and returns how many it expired. A failed save does not
// stop the sweep; all such failures are returned together.
func (m *Manager) ExpireStaleConversations(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	convs, err := m.store.GetAllConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	now := m.now()
	var (
		expired int
		errs    []error
	)
	for _, conv := range convs {
		if conv.State != database.StateTemplateSent || !conv.IsExpired(now) {
			continue
		}
		if err := m.expire(ctx, conv); err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
		m.logger.InfoContext(ctx, "Conversation expired", "conversation_id", conv.ID, "user_id", conv.UserID)
	}

	return expired, errors.Join(errs...)
}
