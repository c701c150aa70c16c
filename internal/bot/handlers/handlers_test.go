package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/marketbot/internal/config"
	"github.com/edgard/marketbot/internal/database"
	"github.com/edgard/marketbot/internal/logger"
)

func newStore(t *testing.T) database.Store {
	t.Helper()
	s, err := database.NewJSONStore(filepath.Join(t.TempDir(), "state.json"), nil, 100)
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, store database.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	open := database.NewTemplateConversation("c1", "t1", "r1", "u1", "alice", now, time.Hour)
	require.NoError(t, store.SaveConversation(ctx, open))

	expired := database.NewTemplateConversation("c2", "t2", "r2", "u2", "bob", now, time.Hour)
	require.NoError(t, expired.Expire(now.Add(2*time.Hour)))
	require.NoError(t, store.SaveConversation(ctx, expired))

	require.NoError(t, store.SetLastMentionID(ctx, "999"))
}

func TestBuildStatus(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	seed(t, store)

	text, err := buildStatus(context.Background(), store)
	require.NoError(t, err)
	assert.Contains(t, text, "Store: ok")
	assert.Contains(t, text, "Conversations: 2")
	assert.Contains(t, text, "TEMPLATE_SENT: 1")
	assert.Contains(t, text, "EXPIRED: 1")
	assert.Contains(t, text, "DONE: 0")
	assert.Contains(t, text, "Last mention: 999")
}

func TestBuildStatusEmptyCursor(t *testing.T) {
	t.Parallel()

	text, err := buildStatus(context.Background(), newStore(t))
	require.NoError(t, err)
	assert.Contains(t, text, "Last mention: (none)")
}

func TestDescribeConversation(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	text, err := describeConversation(ctx, store, "c1")
	require.NoError(t, err)
	assert.Contains(t, text, `"templateReplyTweetId": "r1"`)
	assert.Contains(t, text, `"state": "TEMPLATE_SENT"`)

	text, err = describeConversation(ctx, store, "nope")
	require.NoError(t, err)
	assert.Equal(t, "Conversation nope not found.", text)

	text, err = describeConversation(ctx, store, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Usage:"))
}

func TestCommandArg(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc-123", commandArg("/conversation abc-123"))
	assert.Equal(t, "abc", commandArg("  /conversation   abc  "))
	assert.Empty(t, commandArg("/conversation"))
}

type fakeSender struct {
	err   error
	texts []string
}

func (f *fakeSender) SendMessage(_ context.Context, p *tgbot.SendMessageParams) (*models.Message, error) {
	f.texts = append(f.texts, p.Text)
	return &models.Message{}, f.err
}

func TestNotifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	conv := &database.Conversation{
		Username:     "alice",
		State:        database.StateDone,
		Params:       &database.MarketParams{Question: "Will it rain?"},
		MarketResult: &database.MarketResult{URL: "https://yosoku.fun/markets/PDA"},
	}

	sender := &fakeSender{}
	n := NewNotifier(sender, 42, logger.Discard())
	require.NoError(t, n.NotifyMarketCreated(ctx, conv))

	conv.ErrorMessage = "insufficient balance"
	require.NoError(t, n.NotifyMarketFailed(ctx, conv))

	require.Len(t, sender.texts, 2)
	assert.Equal(t, "Market created for @alice\nWill it rain?\nhttps://yosoku.fun/markets/PDA", sender.texts[0])
	assert.Equal(t, "Market creation failed for @alice\nWill it rain?\nError: insufficient balance", sender.texts[1])

	silent := &fakeSender{}
	require.NoError(t, NewNotifier(silent, 0, logger.Discard()).NotifyMarketCreated(ctx, conv))
	assert.Empty(t, silent.texts, "no chat configured")

	failing := NewNotifier(&fakeSender{err: errors.New("bot blocked")}, 42, logger.Discard())
	assert.Error(t, failing.NotifyMarketFailed(ctx, conv))
}

type telegramServer struct {
	mu    sync.Mutex
	texts []string
}

func (s *telegramServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		_ = r.ParseMultipartForm(1 << 20)
		s.mu.Lock()
		s.texts = append(s.texts, r.FormValue("text"))
		s.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
}

type countingSweeper struct{ calls int }

func (s *countingSweeper) ExpireStaleConversations(context.Context) (int, error) {
	s.calls++
	return 2, nil
}

func TestAdminOnly(t *testing.T) {
	t.Parallel()

	srv := &telegramServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	b, err := tgbot.New("123456:TEST", tgbot.WithSkipGetMe(), tgbot.WithServerURL(ts.URL))
	require.NoError(t, err)

	sweeper := &countingSweeper{}
	deps := HandlerDeps{
		Logger:  logger.Discard(),
		Config:  &config.Config{Telegram: config.TelegramConfig{AdminUserID: 7}},
		Store:   newStore(t),
		Sweeper: sweeper,
	}
	handler := RegisterAllCommands(deps)["/sweep"]
	require.Len(t, handler.Middleware, 1)
	wrapped := handler.Middleware[0](handler.Handler)

	update := func(userID int64) *models.Update {
		return &models.Update{Message: &models.Message{
			Text: "/sweep",
			From: &models.User{ID: userID},
			Chat: models.Chat{ID: 1},
		}}
	}

	wrapped(context.Background(), b, update(8))
	assert.Zero(t, sweeper.calls)

	wrapped(context.Background(), b, update(7))
	assert.Equal(t, 1, sweeper.calls)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{msgNotAuthorized, "Expired 2 conversation(s)."}, srv.texts)
}

func TestRegisterAllCommands(t *testing.T) {
	t.Parallel()

	cmds := RegisterAllCommands(HandlerDeps{Logger: logger.Discard(), Config: &config.Config{}})
	for _, name := range []string{"/help", "/status", "/conversation", "/sweep"} {
		h, ok := cmds[name]
		require.True(t, ok, name)
		assert.Equal(t, strings.TrimPrefix(name, "/"), h.Pattern)
		assert.NotNil(t, h.Handler)
		assert.Equal(t, tgbot.MatchTypeCommandStartOnly, h.MatchType)
	}
}
