package database

import (
	"errors"
	"fmt"
	"time"
)

// ConversationState is the lifecycle state of a market-creation conversation.
type ConversationState string

const (
	StateTemplateSent   ConversationState = "TEMPLATE_SENT"
	StateCreatingMarket ConversationState = "CREATING_MARKET"
	StateDone           ConversationState = "DONE"
	StateFailed         ConversationState = "FAILED"
	StateExpired        ConversationState = "EXPIRED"
)

// ErrInvalidTransition is returned when a conversation is asked to move to a
// state that is not reachable from its current one.
var ErrInvalidTransition = errors.New("invalid conversation state transition")

// IsTerminal reports whether no transition may leave s.
func (s ConversationState) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateExpired:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s ConversationState) Valid() bool {
	switch s {
	case StateTemplateSent, StateCreatingMarket, StateDone, StateFailed, StateExpired:
		return true
	}
	return false
}

// ResolverType selects how a market outcome gets settled.
type ResolverType string

const (
	ResolverUMA        ResolverType = "uma"
	ResolverWalletVote ResolverType = "wallet_vote"
)

// ResolverConfig describes the settlement mechanism of a market.
// Voters is only populated for ResolverWalletVote.
type ResolverConfig struct {
	Type   ResolverType `json:"type"`
	Voters []string     `json:"voters,omitempty"`
}

// MarketParams is a validated market-creation request.
type MarketParams struct {
	Question    string         `json:"question"`
	Category    string         `json:"category"`
	EndDate     time.Time      `json:"endDate"`
	Description string         `json:"description,omitempty"`
	Rules       string         `json:"rules,omitempty"`
	ImageURI    string         `json:"imageUri,omitempty"`
	Resolver    ResolverConfig `json:"resolver"`
}

// MarketResult is the outcome of a successful market creation.
type MarketResult struct {
	MarketID   string   `json:"marketId"`
	MarketPDA  string   `json:"marketPda"`
	Signatures []string `json:"signatures"`
	URL        string   `json:"url"`
}

// Conversation tracks one market-creation attempt from trigger to outcome.
// Mutate it only through the transition methods so the state invariants hold.
type Conversation struct {
	ID string `json:"id" db:"id"`

	TriggerTweetID       string `json:"triggerTweetId" db:"trigger_tweet_id"`
	TemplateReplyTweetID string `json:"templateReplyTweetId,omitempty" db:"template_reply_tweet_id"`
	FilledReplyTweetID   string `json:"filledReplyTweetId,omitempty" db:"filled_reply_tweet_id"`

	UserID   string `json:"userId" db:"user_id"`
	Username string `json:"username" db:"username"`

	State             ConversationState `json:"state" db:"state"`
	Params            *MarketParams     `json:"params,omitempty" db:"-"`
	FeeReceiverWallet string            `json:"feeReceiverWallet,omitempty" db:"fee_receiver_wallet"`
	MarketResult      *MarketResult     `json:"marketResult,omitempty" db:"-"`
	ErrorMessage      string            `json:"errorMessage,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// NewTemplateConversation returns a conversation waiting for the requester to
// fill in the template that was posted as templateReplyID.
func NewTemplateConversation(id, triggerID, templateReplyID, userID, username string, now time.Time, ttl time.Duration) *Conversation {
	now = now.UTC()
	return &Conversation{
		ID:                   id,
		TriggerTweetID:       triggerID,
		TemplateReplyTweetID: templateReplyID,
		UserID:               userID,
		Username:             username,
		State:                StateTemplateSent,
		CreatedAt:            now,
		UpdatedAt:            now,
		ExpiresAt:            now.Add(ttl),
	}
}

// NewStandaloneConversation returns a conversation for a submission that
// arrived fully filled in a single message. It starts in CREATING_MARKET.
func NewStandaloneConversation(id, tweetID, userID, username string, params *MarketParams, wallet string, now time.Time, ttl time.Duration) (*Conversation, error) {
	now = now.UTC()
	c := &Conversation{
		ID:             id,
		TriggerTweetID: tweetID,
		UserID:         userID,
		Username:       username,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	c.FilledReplyTweetID = tweetID
	if err := c.StartCreating(params, wallet, now); err != nil {
		return nil, err
	}
	return c, nil
}

// IsTerminal reports whether the conversation has reached DONE, FAILED or EXPIRED.
func (c *Conversation) IsTerminal() bool {
	return c.State.IsTerminal()
}

// IsExpired reports whether the completion window has closed at now.
func (c *Conversation) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Touch bumps UpdatedAt. Every mutation goes through it.
func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// RecordFilledReply notes the message carrying the latest submission attempt.
func (c *Conversation) RecordFilledReply(tweetID string, now time.Time) error {
	if c.State != StateTemplateSent {
		return fmt.Errorf("%w: record reply in %s", ErrInvalidTransition, c.State)
	}
	c.FilledReplyTweetID = tweetID
	c.Touch(now)
	return nil
}

// StartCreating moves a new or TEMPLATE_SENT conversation into CREATING_MARKET.
// Params and wallet are only ever set here, together.
func (c *Conversation) StartCreating(params *MarketParams, wallet string, now time.Time) error {
	if c.State != "" && c.State != StateTemplateSent {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, StateCreatingMarket)
	}
	if params == nil || wallet == "" {
		return fmt.Errorf("%w: params and wallet are required", ErrInvalidTransition)
	}
	c.Params = params
	c.FeeReceiverWallet = wallet
	c.State = StateCreatingMarket
	c.Touch(now)
	return nil
}

// Complete records a successful market creation.
func (c *Conversation) Complete(result *MarketResult, now time.Time) error {
	if c.State != StateCreatingMarket {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, StateDone)
	}
	if result == nil {
		return fmt.Errorf("%w: market result is required", ErrInvalidTransition)
	}
	c.MarketResult = result
	c.State = StateDone
	c.Touch(now)
	return nil
}

// Fail records a failed market creation.
func (c *Conversation) Fail(msg string, now time.Time) error {
	if c.State != StateCreatingMarket {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, StateFailed)
	}
	c.ErrorMessage = msg
	c.State = StateFailed
	c.Touch(now)
	return nil
}

// Expire closes a conversation whose template was never completed.
func (c *Conversation) Expire(now time.Time) error {
	if c.State != StateTemplateSent {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, StateExpired)
	}
	c.State = StateExpired
	c.Touch(now)
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Params != nil {
		p := *c.Params
		p.Resolver.Voters = append([]string(nil), c.Params.Resolver.Voters...)
		cp.Params = &p
	}
	if c.MarketResult != nil {
		r := *c.MarketResult
		r.Signatures = append([]string(nil), c.MarketResult.Signatures...)
		cp.MarketResult = &r
	}
	return &cp
}
