package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// stateDocument is the on-disk shape of the JSON store.
type stateDocument struct {
	LastMentionID     string                   `json:"lastMentionId,omitempty"`
	Conversations     map[string]*Conversation `json:"conversations"`
	ProcessedTweetIDs []string                 `json:"processedTweetIds"`
}

// JSONStore keeps all state in a single JSON document that is replaced
// atomically on every write (temp file, fsync, rename).
type JSONStore struct {
	mu        sync.Mutex
	path      string
	logger    *slog.Logger
	capacity  int
	doc       stateDocument
	processed map[string]struct{}
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore loads path, or starts empty if it does not exist.
// A file that exists but cannot be decoded is an error.
func NewJSONStore(path string, logger *slog.Logger, capacity int) (*JSONStore, error) {
	if path == "" {
		return nil, fmt.Errorf("json store path cannot be empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if capacity <= 0 {
		capacity = DefaultProcessedCapacity
	}

	s := &JSONStore{
		path:     path,
		logger:   logger.With("component", "store", "driver", DriverJSON),
		capacity: capacity,
		doc: stateDocument{
			Conversations: make(map[string]*Conversation),
		},
		processed: make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("State file not found, starting empty", "path", path)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("failed to decode state file %s: %w", path, err)
	}
	if s.doc.Conversations == nil {
		s.doc.Conversations = make(map[string]*Conversation)
	}
	for _, id := range s.doc.ProcessedTweetIDs {
		s.processed[id] = struct{}{}
	}

	s.logger.Info("State file loaded", "path", path,
		"conversations", len(s.doc.Conversations), "processed", len(s.doc.ProcessedTweetIDs))
	return s, nil
}

// persist writes the document to a temp file in the same directory and
// renames it over the real one. Callers hold s.mu.
func (s *JSONStore) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Ping reports whether the store is usable.
func (s *JSONStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// GetConversation returns a copy of the conversation, or nil, nil.
func (s *JSONStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Conversations[id].Clone(), nil
}

// GetConversationByTemplateReplyID scans for the owner of tweetID.
func (s *JSONStore) GetConversationByTemplateReplyID(_ context.Context, tweetID string) (*Conversation, error) {
	if tweetID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.doc.Conversations {
		if c.TemplateReplyTweetID == tweetID {
			return c.Clone(), nil
		}
	}
	return nil, nil
}

// GetAllConversations returns copies ordered by creation time.
func (s *JSONStore) GetAllConversations(_ context.Context) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make([]*Conversation, 0, len(s.doc.Conversations))
	for _, c := range s.doc.Conversations {
		convs = append(convs, c.Clone())
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
	return convs, nil
}

// SaveConversation stores a copy of conv and persists the document. The
// in-memory state is rolled back if the write fails.
func (s *JSONStore) SaveConversation(_ context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("cannot save nil conversation")
	}
	if conv.ID == "" {
		return fmt.Errorf("conversation must have an id")
	}
	if !conv.State.Valid() {
		return fmt.Errorf("conversation %s has invalid state %q", conv.ID, conv.State)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.TemplateReplyTweetID != "" {
		for id, other := range s.doc.Conversations {
			if id != conv.ID && other.TemplateReplyTweetID == conv.TemplateReplyTweetID {
				return fmt.Errorf("%w: %s owned by %s", ErrDuplicateTemplateReply, conv.TemplateReplyTweetID, id)
			}
		}
	}

	prev, existed := s.doc.Conversations[conv.ID]
	s.doc.Conversations[conv.ID] = conv.Clone()
	if err := s.persist(); err != nil {
		if existed {
			s.doc.Conversations[conv.ID] = prev
		} else {
			delete(s.doc.Conversations, conv.ID)
		}
		s.logger.Error("Failed to persist conversation", "conversation_id", conv.ID, "error", err)
		return err
	}

	s.logger.Debug("Conversation saved", "conversation_id", conv.ID, "state", conv.State)
	return nil
}

// CountUserMarkets counts a user's DONE and CREATING_MARKET conversations.
func (s *JSONStore) CountUserMarkets(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.doc.Conversations {
		if c.UserID == userID && (c.State == StateDone || c.State == StateCreatingMarket) {
			n++
		}
	}
	return n, nil
}

// IsProcessed reports whether messageID is in the processed set.
func (s *JSONStore) IsProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[messageID]
	return ok, nil
}

// MarkProcessed appends messageID, evicts the oldest ids beyond capacity and
// persists the document.
func (s *JSONStore) MarkProcessed(_ context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("message id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[messageID]; ok {
		return nil
	}

	prevIDs := s.doc.ProcessedTweetIDs
	ids := append(append([]string(nil), prevIDs...), messageID)
	var evicted []string
	if over := len(ids) - s.capacity; over > 0 {
		evicted = ids[:over]
		ids = ids[over:]
	}
	s.doc.ProcessedTweetIDs = ids

	if err := s.persist(); err != nil {
		s.doc.ProcessedTweetIDs = prevIDs
		return err
	}

	s.processed[messageID] = struct{}{}
	for _, id := range evicted {
		delete(s.processed, id)
	}
	return nil
}

// GetLastMentionID returns the polling cursor.
func (s *JSONStore) GetLastMentionID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LastMentionID, nil
}

// SetLastMentionID stores and persists the polling cursor.
func (s *JSONStore) SetLastMentionID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.doc.LastMentionID
	s.doc.LastMentionID = id
	if err := s.persist(); err != nil {
		s.doc.LastMentionID = prev
		return err
	}
	return nil
}

// RunMaintenance rewrites the document, dropping any stale temp file.
func (s *JSONStore) RunMaintenance(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// Close is a no-op; every write is already durable.
func (s *JSONStore) Close() error {
	return nil
}
