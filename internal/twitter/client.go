// Package twitter is the X API v2 client: it polls the bot's mentions, looks
// up accounts and posts replies, signing every request with OAuth 1.0a user
// credentials.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/edgard/marketbot/internal/admission"
	"github.com/edgard/marketbot/internal/conversation"
)

// DefaultBaseURL is the X API root.
const DefaultBaseURL = "https://api.twitter.com"

const maxMentionResults = "100"

// Credentials are the OAuth 1.0a user-context keys of the bot account.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Client talks to the X API on behalf of the bot account.
type Client struct {
	baseURL    string
	botUserID  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a signed client. An empty baseURL means DefaultBaseURL.
func NewClient(creds Credentials, botUserID, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cfg := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	httpClient := cfg.Client(oauth1.NoContext, oauth1.NewToken(creds.AccessToken, creds.AccessSecret))
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		botUserID:  botUserID,
		httpClient: httpClient,
		logger:     logger.With("component", "twitter_client"),
	}
}

// BotUserID is the id of the account whose mentions are polled.
func (c *Client) BotUserID() string {
	return c.botUserID
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type tweetReference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type apiTweet struct {
	ID               string           `json:"id"`
	Text             string           `json:"text"`
	AuthorID         string           `json:"author_id"`
	ReferencedTweets []tweetReference `json:"referenced_tweets"`
	Attachments      struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type apiMedia struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}

type apiUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Verified      bool   `json:"verified"`
	PublicMetrics *struct {
		FollowersCount int `json:"followers_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

type mentionsResponse struct {
	Data     []apiTweet `json:"data"`
	Includes struct {
		Media []apiMedia `json:"media"`
		Users []apiUser  `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
	Errors []apiError `json:"errors"`
}

// Known reference types. Anything else means the payload changed shape.
var knownReferenceTypes = map[string]bool{
	"replied_to": true,
	"quoted":     true,
	"retweeted":  true,
}

// toMessage converts a raw tweet, or reports why it cannot enter the core.
func toMessage(t apiTweet) (conversation.Message, error) {
	msg := conversation.Message{
		ID:        t.ID,
		AuthorID:  t.AuthorID,
		Text:      t.Text,
		MediaKeys: t.Attachments.MediaKeys,
	}
	for _, ref := range t.ReferencedTweets {
		if !knownReferenceTypes[ref.Type] {
			return conversation.Message{}, fmt.Errorf("%w: tweet %s has unknown reference type %q", conversation.ErrInvalidMessage, t.ID, ref.Type)
		}
		if ref.Type == "replied_to" {
			msg.ReplyToID = ref.ID
		}
	}
	if err := msg.Validate(); err != nil {
		return conversation.Message{}, err
	}
	return msg, nil
}

// PollMentions fetches mentions newer than sinceID. Malformed tweets are
// dropped with a warning. When nothing new arrived, NewestID is sinceID.
func (c *Client) PollMentions(ctx context.Context, sinceID string) (conversation.Batch, error) {
	q := url.Values{}
	q.Set("max_results", maxMentionResults)
	q.Set("tweet.fields", "author_id,conversation_id,in_reply_to_user_id,referenced_tweets,created_at,attachments")
	q.Set("media.fields", "url,preview_image_url,type")
	q.Set("user.fields", "username")
	q.Set("expansions", "author_id,attachments.media_keys")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}

	var resp mentionsResponse
	path := "/2/users/" + url.PathEscape(c.botUserID) + "/mentions?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return conversation.Batch{NewestID: sinceID}, fmt.Errorf("poll mentions: %w", err)
	}

	batch := conversation.Batch{
		NewestID: sinceID,
		Includes: conversation.Includes{Users: make(map[string]string, len(resp.Includes.Users))},
	}
	for _, m := range resp.Includes.Media {
		batch.Includes.Media = append(batch.Includes.Media, conversation.Media{
			Key:             m.MediaKey,
			Type:            m.Type,
			URL:             m.URL,
			PreviewImageURL: m.PreviewImageURL,
		})
	}
	for _, u := range resp.Includes.Users {
		batch.Includes.Users[u.ID] = u.Username
	}

	for _, t := range resp.Data {
		msg, err := toMessage(t)
		if err != nil {
			c.logger.WarnContext(ctx, "Dropping malformed tweet", "tweet_id", t.ID, "error", err)
			continue
		}
		batch.Messages = append(batch.Messages, msg)
	}

	switch {
	case len(resp.Data) > 0 && resp.Data[0].ID != "":
		batch.NewestID = resp.Data[0].ID
	case resp.Meta.NewestID != "":
		batch.NewestID = resp.Meta.NewestID
	}

	c.logger.DebugContext(ctx, "Mentions polled", "since_id", sinceID, "count", len(batch.Messages), "newest_id", batch.NewestID)
	return batch, nil
}

func (c *Client) lookupUser(ctx context.Context, userID string) (*apiUser, error) {
	var resp struct {
		Data   *apiUser   `json:"data"`
		Errors []apiError `json:"errors"`
	}
	path := "/2/users/" + url.PathEscape(userID) + "?user.fields=public_metrics,verified,username"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("user %s: %s", userID, resp.Errors[0].Detail)
		}
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return resp.Data, nil
}

// LookupUsername resolves a user id to a handle.
func (c *Client) LookupUsername(ctx context.Context, userID string) (string, error) {
	u, err := c.lookupUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup username: %w", err)
	}
	return u.Username, nil
}

// LookupAccount returns the public metrics the admission gate checks. A user
// without public metrics yields (nil, nil).
func (c *Client) LookupAccount(ctx context.Context, userID string) (*admission.AccountMetrics, error) {
	u, err := c.lookupUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if u.PublicMetrics == nil {
		return nil, nil
	}
	return &admission.AccountMetrics{
		Followers: u.PublicMetrics.FollowersCount,
		Tweets:    u.PublicMetrics.TweetCount,
		Verified:  u.Verified,
	}, nil
}

// Reply posts text as a reply to inReplyTo and returns the new tweet id.
func (c *Client) Reply(ctx context.Context, inReplyTo, text string) (string, error) {
	payload := map[string]any{
		"text":  text,
		"reply": map[string]string{"in_reply_to_tweet_id": inReplyTo},
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/2/tweets", payload, &resp); err != nil {
		return "", fmt.Errorf("post reply: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("post reply: response has no tweet id")
	}
	return resp.Data.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
