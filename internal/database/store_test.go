package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T, capacity int) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		DriverSQLite: func(t *testing.T, capacity int) Store {
			t.Helper()
			s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "state.db"), capacity, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		DriverJSON: func(t *testing.T, capacity int) Store {
			t.Helper()
			s, err := Open(DriverJSON, filepath.Join(t.TempDir(), "state.json"), capacity, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	t.Helper()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, factory)
		})
	}
}

func TestStoreConversationRoundTrip(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, 0)

		missing, err := s.GetConversation(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		c := NewTemplateConversation("c1", "100", "101", "u1", "alice", t0, ttl)
		require.NoError(t, s.SaveConversation(ctx, c))

		got, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		if diff := cmp.Diff(c, got); diff != "" {
			t.Errorf("conversation mismatch (-want +got):\n%s", diff)
		}

		byReply, err := s.GetConversationByTemplateReplyID(ctx, "101")
		require.NoError(t, err)
		require.NotNil(t, byReply)
		assert.Equal(t, "c1", byReply.ID)

		none, err := s.GetConversationByTemplateReplyID(ctx, "999")
		require.NoError(t, err)
		assert.Nil(t, none)

		require.NoError(t, c.StartCreating(sampleParams(), "wallet", t0.Add(time.Minute)))
		c.Params.Resolver = ResolverConfig{Type: ResolverWalletVote, Voters: []string{"v1", "v2"}}
		require.NoError(t, c.Complete(&MarketResult{MarketID: "m1", MarketPDA: "pda", Signatures: []string{"sig"}, URL: "https://x/pda"}, t0.Add(2*time.Minute)))
		require.NoError(t, s.SaveConversation(ctx, c))

		got, err = s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		if diff := cmp.Diff(c, got); diff != "" {
			t.Errorf("updated conversation mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, 0)

		c := NewTemplateConversation("c1", "100", "101", "u1", "alice", t0, ttl)
		require.NoError(t, s.SaveConversation(ctx, c))
		c.State = StateExpired

		got, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, StateTemplateSent, got.State)
	})
}

func TestStoreTemplateReplyUniqueness(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, 0)

		require.NoError(t, s.SaveConversation(ctx, NewTemplateConversation("c1", "1", "shared", "u1", "a", t0, ttl)))
		err := s.SaveConversation(ctx, NewTemplateConversation("c2", "2", "shared", "u2", "b", t0, ttl))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateTemplateReply))

		// Standalone conversations carry no template reply and never conflict.
		a, err := NewStandaloneConversation("s1", "3", "u1", "a", sampleParams(), "w", t0, ttl)
		require.NoError(t, err)
		b, err := NewStandaloneConversation("s2", "4", "u1", "a", sampleParams(), "w", t0, ttl)
		require.NoError(t, err)
		require.NoError(t, s.SaveConversation(ctx, a))
		require.NoError(t, s.SaveConversation(ctx, b))
	})
}

func TestStoreGetAllAndCount(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, 0)

		open := NewTemplateConversation("a", "1", "r1", "u1", "alice", t0, ttl)
		creating, err := NewStandaloneConversation("b", "2", "u1", "alice", sampleParams(), "w", t0.Add(time.Second), ttl)
		require.NoError(t, err)
		done, err := NewStandaloneConversation("c", "3", "u1", "alice", sampleParams(), "w", t0.Add(2*time.Second), ttl)
		require.NoError(t, err)
		require.NoError(t, done.Complete(&MarketResult{MarketID: "m"}, t0.Add(3*time.Second)))
		failed, err := NewStandaloneConversation("d", "4", "u1", "alice", sampleParams(), "w", t0.Add(4*time.Second), ttl)
		require.NoError(t, err)
		require.NoError(t, failed.Fail("boom", t0.Add(5*time.Second)))
		other := NewTemplateConversation("e", "5", "r2", "u2", "bob", t0.Add(6*time.Second), ttl)

		for _, c := range []*Conversation{other, failed, done, creating, open} {
			require.NoError(t, s.SaveConversation(ctx, c))
		}

		all, err := s.GetAllConversations(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, c := range all {
			ids = append(ids, c.ID)
		}
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)

		n, err := s.CountUserMarkets(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.CountUserMarkets(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestStoreProcessedSetEvictsOldestFirst(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, 3)

		for i := 1; i <= 5; i++ {
			require.NoError(t, s.MarkProcessed(ctx, fmt.Sprintf("m%d", i)))
		}
		// Re-marking an existing id is a no-op and does not refresh its position.
		require.NoError(t, s.MarkProcessed(ctx, "m3"))

		for id, want := range map[string]bool{"m1": false, "m2": false, "m3": true, "m4": true, "m5": true} {
			got, err := s.IsProcessed(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got, id)
		}
	})
}

func TestStoreCursor(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, 0)

		id, err := s.GetLastMentionID(ctx)
		require.NoError(t, err)
		assert.Empty(t, id)

		require.NoError(t, s.SetLastMentionID(ctx, "1000"))
		require.NoError(t, s.SetLastMentionID(ctx, "1001"))
		id, err = s.GetLastMentionID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1001", id)

		require.NoError(t, s.Ping(ctx))
		require.NoError(t, s.RunMaintenance(ctx))
	})
}

func TestStoreRejectsInvalidConversation(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, 0)

		assert.Error(t, s.SaveConversation(ctx, nil))
		assert.Error(t, s.SaveConversation(ctx, &Conversation{State: StateTemplateSent}))
		assert.Error(t, s.SaveConversation(ctx, &Conversation{ID: "x", State: "BOGUS"}))
		assert.Error(t, s.MarkProcessed(ctx, ""))
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(DriverSQLite, path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveConversation(ctx, NewTemplateConversation("c1", "1", "2", "u", "n", t0, ttl)))
	require.NoError(t, s.MarkProcessed(ctx, "m1"))
	require.NoError(t, s.SetLastMentionID(ctx, "42"))
	require.NoError(t, s.Close())

	reopened, err := Open(DriverSQLite, path, 0, nil)
	require.NoError(t, err)
	defer reopened.Close()

	c, err := reopened.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	ok, err := reopened.IsProcessed(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	id, err := reopened.GetLastMentionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestJSONStoreDocumentFormat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := NewJSONStore(path, nil, 0)
	require.NoError(t, err)
	require.NoError(t, s.SaveConversation(ctx, NewTemplateConversation("c1", "1", "2", "u", "n", t0, ttl)))
	require.NoError(t, s.MarkProcessed(ctx, "m1"))
	require.NoError(t, s.SetLastMentionID(ctx, "42"))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "lastMentionId")
	assert.Contains(t, doc, "conversations")
	assert.Contains(t, doc, "processedTweetIds")

	var convs map[string]map[string]any
	require.NoError(t, json.Unmarshal(doc["conversations"], &convs))
	assert.Equal(t, "TEMPLATE_SENT", convs["c1"]["state"])
	assert.Equal(t, "2", convs["c1"]["templateReplyTweetId"])

	reloaded, err := NewJSONStore(path, nil, 0)
	require.NoError(t, err)
	c, err := reloaded.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.ExpiresAt.Equal(t0.Add(time.Hour)))
	ok, err := reloaded.IsProcessed(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJSONStoreCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewJSONStore(path, nil, 0)
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open("postgres", "x", 0, nil)
	assert.Error(t, err)
}

func TestExtractDBNameFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"storage.db", "storage.db"},
		{"file:storage.db", "storage.db"},
		{"file:storage.db?_pragma=busy_timeout(5000)", "storage.db"},
		{"my%20db.sqlite", "my db.sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractDBNameFromPath(tt.in))
		})
	}
}
