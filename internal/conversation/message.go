package conversation

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage marks an inbound message that failed boundary validation.
var ErrInvalidMessage = errors.New("invalid inbound message")

// Media types that can serve as a market image.
const (
	MediaTypePhoto       = "photo"
	MediaTypeAnimatedGIF = "animated_gif"
)

// Message is an inbound mention or reply, already decoded from the platform payload.
type Message struct {
	ID       string
	AuthorID string
	Text     string
	// ReplyToID is the target of the message's "replied_to" reference, if any.
	ReplyToID string
	MediaKeys []string
}

// Validate checks the fields the manager relies on.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.AuthorID == "" {
		return fmt.Errorf("%w: message %s has no author", ErrInvalidMessage, m.ID)
	}
	return nil
}

// Media is one attachment listed in the includes payload.
type Media struct {
	Key             string
	Type            string
	URL             string
	PreviewImageURL string
}

// Includes carries the expansions delivered alongside a batch of messages.
type Includes struct {
	Media []Media
	// Users maps author id to username.
	Users map[string]string
}

// ImageURL returns the first photo or animated image attached to msg, or "".
func (inc Includes) ImageURL(msg Message) string {
	for _, key := range msg.MediaKeys {
		for _, m := range inc.Media {
			if m.Key != key {
				continue
			}
			if m.Type != MediaTypePhoto && m.Type != MediaTypeAnimatedGIF {
				continue
			}
			if m.URL != "" {
				return m.URL
			}
			if m.PreviewImageURL != "" {
				return m.PreviewImageURL
			}
		}
	}
	return ""
}

// Username resolves an author id from the expansions.
func (inc Includes) Username(userID string) (string, bool) {
	name, ok := inc.Users[userID]
	return name, ok && name != ""
}

// Batch is one poll's worth of messages. Messages arrive newest first, as
// the platform returns them; NewestID is the cursor to resume from.
type Batch struct {
	Messages []Message
	Includes Includes
	NewestID string
}

// OldestFirst returns the batch messages in processing order.
func (b Batch) OldestFirst() []Message {
	out := make([]Message, len(b.Messages))
	for i, m := range b.Messages {
		out[len(b.Messages)-1-i] = m
	}
	return out
}
