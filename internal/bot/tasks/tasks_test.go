package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/marketbot/internal/cache/redis"
	"github.com/edgard/marketbot/internal/config"
	"github.com/edgard/marketbot/internal/conversation"
	"github.com/edgard/marketbot/internal/database"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *database.JSONStore {
	t.Helper()
	s, err := database.NewJSONStore(filepath.Join(t.TempDir(), "state.json"), discardLogger(), 0)
	require.NoError(t, err)
	return s
}

type fakeMentions struct {
	batch     conversation.Batch
	err       error
	sinceIDs  []string
	usernames map[string]string
}

func (f *fakeMentions) BotUserID() string { return "bot" }

func (f *fakeMentions) PollMentions(_ context.Context, sinceID string) (conversation.Batch, error) {
	f.sinceIDs = append(f.sinceIDs, sinceID)
	if f.err != nil {
		return conversation.Batch{NewestID: sinceID}, f.err
	}
	return f.batch, nil
}

func (f *fakeMentions) LookupUsername(_ context.Context, userID string) (string, error) {
	if name, ok := f.usernames[userID]; ok {
		return name, nil
	}
	return "", errors.New("user not found")
}

type processedCall struct {
	id       string
	username string
}

type fakeProcessor struct {
	mu        sync.Mutex
	calls     []processedCall
	failOn    string
	expired   int
	expireErr error
}

func (f *fakeProcessor) ProcessMessage(_ context.Context, msg conversation.Message, username string, _ conversation.Includes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, processedCall{id: msg.ID, username: username})
	if msg.ID == f.failOn {
		return errors.New("store unavailable")
	}
	return nil
}

func (f *fakeProcessor) ExpireStaleConversations(context.Context) (int, error) {
	return f.expired, f.expireErr
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, redis.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type fakePruner struct{ calls int }

func (p *fakePruner) Prune() int {
	p.calls++
	return 1
}

func TestMentionPoll(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetLastMentionID(ctx, "100"))

	mentions := &fakeMentions{
		batch: conversation.Batch{
			Messages: []conversation.Message{
				{ID: "104", AuthorID: "u3", Text: "fails"},
				{ID: "103", AuthorID: "bot", Text: "own reply"},
				{ID: "102", AuthorID: "u2", Text: "lookup"},
				{ID: "101", AuthorID: "u1", Text: "included"},
			},
			Includes: conversation.Includes{Users: map[string]string{"u1": "alice"}},
			NewestID: "104",
		},
		usernames: map[string]string{"u2": "bob"},
	}
	proc := &fakeProcessor{failOn: "104"}
	locker := &fakeLocker{}

	task := newMentionPollTask(TaskDeps{
		Logger: discardLogger(), Store: store, Mentions: mentions, Processor: proc, Locker: locker,
	})
	require.NoError(t, task(ctx))

	assert.Equal(t, []string{"100"}, mentions.sinceIDs)
	assert.Equal(t, []processedCall{
		{id: "101", username: "alice"},
		{id: "102", username: "bob"},
		{id: "104", username: unknownUsername},
	}, proc.calls, "oldest first, bot's own tweets skipped")

	cursor, err := store.GetLastMentionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "104", cursor)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestMentionPollErrorKeepsCursor(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetLastMentionID(ctx, "100"))

	mentions := &fakeMentions{err: errors.New("status 429")}
	proc := &fakeProcessor{}
	task := newMentionPollTask(TaskDeps{Logger: discardLogger(), Store: store, Mentions: mentions, Processor: proc})

	err := task(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Empty(t, proc.calls)

	cursor, err := store.GetLastMentionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", cursor)
}

func TestMentionPollSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	mentions := &fakeMentions{}
	task := newMentionPollTask(TaskDeps{
		Logger: discardLogger(), Store: newStore(t), Mentions: mentions,
		Processor: &fakeProcessor{}, Locker: &fakeLocker{held: true},
	})

	require.NoError(t, task(context.Background()))
	assert.Empty(t, mentions.sinceIDs)
}

func TestExpireConversationsTask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		proc    *fakeProcessor
		wantErr bool
	}{
		{name: "expired some", proc: &fakeProcessor{expired: 3}},
		{name: "nothing stale", proc: &fakeProcessor{}},
		{name: "save failed", proc: &fakeProcessor{expired: 1, expireErr: errors.New("disk full")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pruner := &fakePruner{}
			task := newExpireConversationsTask(TaskDeps{Logger: discardLogger(), Processor: tt.proc, Pruner: pruner})
			err := task(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, pruner.calls)
		})
	}
}

func TestSQLMaintenanceTask(t *testing.T) {
	t.Parallel()

	task := newSQLMaintenanceTask(TaskDeps{Logger: discardLogger(), Store: newStore(t)})
	require.NoError(t, task(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, task(ctx))
}

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()

	got := RegisterAllTasks(TaskDeps{Logger: discardLogger(), Store: newStore(t)})
	assert.Len(t, got, 3)
	for _, name := range []string{config.TaskMentionPoll, config.TaskExpireConversations, config.TaskSQLMaintenance} {
		assert.Contains(t, got, name)
	}
}
