package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrDuplicateTemplateReply is returned when saving a conversation whose
// template reply id is already owned by another conversation.
var ErrDuplicateTemplateReply = errors.New("template reply tweet id already owned by another conversation")

const lastMentionKey = "last_mention_id"

// Store defines the interface for conversation persistence.
// Lookups return nil, nil when nothing matches.
type Store interface {
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// GetConversation retrieves a conversation by id.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// GetConversationByTemplateReplyID finds the conversation correlated with
	// the bot's template reply.
	GetConversationByTemplateReplyID(ctx context.Context, tweetID string) (*Conversation, error)

	// GetAllConversations returns every conversation, oldest first.
	GetAllConversations(ctx context.Context) ([]*Conversation, error)

	// SaveConversation inserts or replaces a conversation.
	SaveConversation(ctx context.Context, conv *Conversation) error

	// CountUserMarkets counts a user's DONE and CREATING_MARKET conversations.
	CountUserMarkets(ctx context.Context, userID string) (int, error)

	// IsProcessed reports whether a message id was already taken in.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed adds a message id to the bounded processed set, evicting
	// the oldest entries once capacity is exceeded.
	MarkProcessed(ctx context.Context, messageID string) error

	// GetLastMentionID returns the polling cursor, or "" when unset.
	GetLastMentionID(ctx context.Context) (string, error)

	// SetLastMentionID advances the polling cursor.
	SetLastMentionID(ctx context.Context, id string) error

	// RunMaintenance compacts the backing storage.
	RunMaintenance(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// conversationRow is the sqlite shape of a Conversation. Nested values are
// kept as JSON text.
type conversationRow struct {
	Conversation
	ParamsJSON sql.NullString `db:"params"`
	ResultJSON sql.NullString `db:"market_result"`
}

func rowFromConversation(c *Conversation) (*conversationRow, error) {
	row := &conversationRow{Conversation: *c}
	if c.Params != nil {
		b, err := json.Marshal(c.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		row.ParamsJSON = sql.NullString{String: string(b), Valid: true}
	}
	if c.MarketResult != nil {
		b, err := json.Marshal(c.MarketResult)
		if err != nil {
			return nil, fmt.Errorf("failed to encode market result: %w", err)
		}
		row.ResultJSON = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (r *conversationRow) toConversation() (*Conversation, error) {
	c := r.Conversation
	if r.ParamsJSON.Valid && r.ParamsJSON.String != "" {
		var p MarketParams
		if err := json.Unmarshal([]byte(r.ParamsJSON.String), &p); err != nil {
			return nil, fmt.Errorf("failed to decode params of conversation %s: %w", c.ID, err)
		}
		c.Params = &p
	}
	if r.ResultJSON.Valid && r.ResultJSON.String != "" {
		var m MarketResult
		if err := json.Unmarshal([]byte(r.ResultJSON.String), &m); err != nil {
			return nil, fmt.Errorf("failed to decode market result of conversation %s: %w", c.ID, err)
		}
		c.MarketResult = &m
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	return &c, nil
}

const conversationColumns = `id, trigger_tweet_id, template_reply_tweet_id, filled_reply_tweet_id,
	user_id, username, state, params, fee_receiver_wallet, market_result, error_message,
	created_at, updated_at, expires_at`

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db       *sqlx.DB
	logger   *slog.Logger
	capacity int
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance with migrations applied.
func NewStore(db *sqlx.DB, logger *slog.Logger, capacity int) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if capacity <= 0 {
		capacity = DefaultProcessedCapacity
	}
	return &sqlxStore{
		db:       db,
		logger:   logger.With("component", "store", "driver", DriverSQLite),
		capacity: capacity,
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) getOne(ctx context.Context, query string, arg any) (*Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, query, arg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return row.toConversation()
}

// GetConversation retrieves a conversation by id. Returns nil, nil if not found.
func (s *sqlxStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation id cannot be empty")
	}
	conv, err := s.getOne(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting conversation", "conversation_id", id, "error", err)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conv, nil
}

// GetConversationByTemplateReplyID finds the owner of a template reply.
func (s *sqlxStore) GetConversationByTemplateReplyID(ctx context.Context, tweetID string) (*Conversation, error) {
	if tweetID == "" {
		return nil, nil
	}
	conv, err := s.getOne(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE template_reply_tweet_id = ?`, tweetID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting conversation by template reply", "tweet_id", tweetID, "error", err)
		return nil, fmt.Errorf("failed to get conversation for template reply %s: %w", tweetID, err)
	}
	return conv, nil
}

// GetAllConversations retrieves every conversation ordered by creation time.
func (s *sqlxStore) GetAllConversations(ctx context.Context) ([]*Conversation, error) {
	var rows []conversationRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+conversationColumns+` FROM conversations ORDER BY created_at, id`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting all conversations", "error", err)
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}

	convs := make([]*Conversation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toConversation()
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// SaveConversation upserts a conversation inside a transaction, rejecting a
// template reply id owned by a different conversation.
func (s *sqlxStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("cannot save nil conversation")
	}
	if conv.ID == "" {
		return fmt.Errorf("conversation must have an id")
	}
	if !conv.State.Valid() {
		return fmt.Errorf("conversation %s has invalid state %q", conv.ID, conv.State)
	}

	row, err := rowFromConversation(conv)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving conversation", "conversation_id", conv.ID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	if conv.TemplateReplyTweetID != "" {
		var owner string
		err := tx.GetContext(ctx, &owner,
			`SELECT id FROM conversations WHERE template_reply_tweet_id = ? AND id <> ?`,
			conv.TemplateReplyTweetID, conv.ID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s owned by %s", ErrDuplicateTemplateReply, conv.TemplateReplyTweetID, owner)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check template reply owner: %w", err)
		}
	}

	query := `
        INSERT INTO conversations (` + conversationColumns + `)
        VALUES (:id, :trigger_tweet_id, :template_reply_tweet_id, :filled_reply_tweet_id,
                :user_id, :username, :state, :params, :fee_receiver_wallet, :market_result, :error_message,
                :created_at, :updated_at, :expires_at)
        ON CONFLICT(id) DO UPDATE SET
            trigger_tweet_id = excluded.trigger_tweet_id,
            template_reply_tweet_id = excluded.template_reply_tweet_id,
            filled_reply_tweet_id = excluded.filled_reply_tweet_id,
            user_id = excluded.user_id,
            username = excluded.username,
            state = excluded.state,
            params = excluded.params,
            fee_receiver_wallet = excluded.fee_receiver_wallet,
            market_result = excluded.market_result,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at,
            expires_at = excluded.expires_at;
    `
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		s.logger.ErrorContext(ctx, "Error saving conversation", "conversation_id", conv.ID, "error", err)
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "conversation_id", conv.ID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Conversation saved", "conversation_id", conv.ID, "state", conv.State)
	return nil
}

// CountUserMarkets counts conversations that created or are creating a market.
func (s *sqlxStore) CountUserMarkets(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM conversations WHERE user_id = ? AND state IN (?, ?)`,
		userID, StateDone, StateCreatingMarket)
	if err != nil {
		return 0, fmt.Errorf("failed to count markets for user %s: %w", userID, err)
	}
	return n, nil
}

// IsProcessed reports whether messageID is in the processed set.
func (s *sqlxStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM processed_messages WHERE message_id = ?`, messageID); err != nil {
		return false, fmt.Errorf("failed to check processed message %s: %w", messageID, err)
	}
	return n > 0, nil
}

// MarkProcessed records messageID and trims the set to capacity, oldest first.
func (s *sqlxStore) MarkProcessed(ctx context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("message id cannot be empty")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (message_id, processed_at) VALUES (?, ?)`,
		messageID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark message %s processed: %w", messageID, err)
	}

	res, err := tx.ExecContext(ctx, `
        DELETE FROM processed_messages
        WHERE seq NOT IN (SELECT seq FROM processed_messages ORDER BY seq DESC LIMIT ?)`, s.capacity)
	if err != nil {
		return fmt.Errorf("failed to trim processed messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	if evicted, err := res.RowsAffected(); err == nil && evicted > 0 {
		s.logger.DebugContext(ctx, "Evicted oldest processed message ids", "count", evicted)
	}
	return nil
}

// GetLastMentionID returns the stored cursor or "" if none.
func (s *sqlxStore) GetLastMentionID(ctx context.Context) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM bot_state WHERE key = ?`, lastMentionKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to get last mention id: %w", err)
	}
	return v, nil
}

// SetLastMentionID stores the cursor.
func (s *sqlxStore) SetLastMentionID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		lastMentionKey, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last mention id: %w", err)
	}
	return nil
}

// RunMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}

// Close closes the underlying connection pool.
func (s *sqlxStore) Close() error {
	return s.db.Close()
}
