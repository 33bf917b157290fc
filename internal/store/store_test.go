// ABOUTME: Behavioural tests shared by every Store implementation
// ABOUTME: Runs the same session/message contract against SQLite and the mock

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func implementations() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"mock": func(t *testing.T) Store { return NewMockStore() },
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range implementations() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_CreateAndGetSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		created, err := s.CreateSession(ctx, "research", map[string]any{"system_prompt": "be brief"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := s.GetSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "research", got.Name)
		assert.Equal(t, "be brief", got.Metadata["system_prompt"])
		assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

		_, err = s.GetSession(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_NilMetadataIsEmptyObject(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		created, err := s.CreateSession(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.NotNil(t, created.Metadata)
		assert.Empty(t, created.Metadata)
	})
}

func TestStore_InsertMessageBumpsSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		older, err := s.CreateSession(ctx, "older", nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		newer, err := s.CreateSession(ctx, "newer", nil)
		require.NoError(t, err)

		list, err := s.ListSessions(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)

		time.Sleep(5 * time.Millisecond)
		msg := &Message{SessionID: older.ID, Role: "user", Content: "hi"}
		require.NoError(t, s.InsertMessage(ctx, msg))
		assert.NotZero(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())

		list, err = s.ListSessions(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, older.ID, list[0].ID, "session with newest message sorts first")
	})
}

func TestStore_InsertMessageUnknownSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.InsertMessage(context.Background(), &Message{SessionID: "missing", Role: "user", Content: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_MessagesRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx, "s", nil)
		require.NoError(t, err)

		in := &Message{
			SessionID:  session.ID,
			Role:       "assistant",
			Content:    "calling",
			Model:      "gpt-4o",
			TokenCount: 12,
			Metadata: map[string]any{
				"tool_calls": []any{map[string]any{"id": "call_1"}},
			},
		}
		require.NoError(t, s.InsertMessage(ctx, in))
		require.NoError(t, s.InsertMessage(ctx, &Message{SessionID: session.ID, Role: "tool", Content: "result",
			Metadata: map[string]any{"tool_call_id": "call_1"}}))

		msgs, err := s.ListMessages(ctx, session.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)

		assert.Equal(t, "assistant", msgs[0].Role)
		assert.Equal(t, "gpt-4o", msgs[0].Model)
		assert.Equal(t, 12, msgs[0].TokenCount)
		calls, ok := msgs[0].Metadata["tool_calls"].([]any)
		require.True(t, ok)
		assert.Len(t, calls, 1)

		assert.Equal(t, "tool", msgs[1].Role)
		assert.Empty(t, msgs[1].Model)
		assert.Zero(t, msgs[1].TokenCount)
		assert.Equal(t, "call_1", msgs[1].Metadata["tool_call_id"])
	})
}

func TestStore_ListMessagesPagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx, "s", nil)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			require.NoError(t, s.InsertMessage(ctx, &Message{SessionID: session.ID, Role: "user", Content: fmt.Sprintf("m%d", i)}))
		}

		first, err := s.ListMessages(ctx, session.ID, 3, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"m0", "m1", "m2"}, contents(first))

		second, err := s.ListMessages(ctx, session.ID, 3, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"m3", "m4", "m5"}, contents(second))

		beyond, err := s.ListMessages(ctx, session.ID, 3, 100)
		require.NoError(t, err)
		assert.Empty(t, beyond)

		recent, err := s.RecentMessages(ctx, session.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, []string{"m6", "m7", "m8", "m9"}, contents(recent))
	})
}

func TestStore_UpdateSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx, "before", map[string]any{"a": "1"})
		require.NoError(t, err)

		name := "after"
		updated, err := s.UpdateSession(ctx, session.ID, SessionUpdate{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "after", updated.Name)
		assert.Equal(t, "1", updated.Metadata["a"], "metadata unchanged when not provided")

		updated, err = s.UpdateSession(ctx, session.ID, SessionUpdate{Metadata: map[string]any{"b": "2"}})
		require.NoError(t, err)
		assert.Equal(t, "after", updated.Name)
		assert.Equal(t, map[string]any{"b": "2"}, updated.Metadata)

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "after", got.Name)

		_, err = s.UpdateSession(ctx, "missing", SessionUpdate{Name: &name})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_DeleteSessionCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx, "doomed", nil)
		require.NoError(t, err)
		require.NoError(t, s.InsertMessage(ctx, &Message{SessionID: session.ID, Role: "user", Content: "bye"}))

		require.NoError(t, s.DeleteSession(ctx, session.ID))

		_, err = s.GetSession(ctx, session.ID)
		assert.True(t, errors.Is(err, ErrNotFound))
		msgs, err := s.ListMessages(ctx, session.ID, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		assert.ErrorIs(t, s.DeleteSession(ctx, session.ID), ErrNotFound)
	})
}

func TestStore_Stats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx, "s", nil)
		require.NoError(t, err)
		_, err = s.CreateSession(ctx, "t", nil)
		require.NoError(t, err)
		require.NoError(t, s.InsertMessage(ctx, &Message{SessionID: session.ID, Role: "user", Content: "a"}))
		require.NoError(t, s.InsertMessage(ctx, &Message{SessionID: session.ID, Role: "assistant", Content: "b", TokenCount: 7}))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.TotalSessions)
		assert.Equal(t, int64(2), st.TotalMessages)
		assert.Equal(t, int64(7), st.TotalTokens)
	})
}

func TestNormalizePage(t *testing.T) {
	l, o := normalizePage(0, -5)
	assert.Equal(t, DefaultLimit, l)
	assert.Equal(t, 0, o)

	l, _ = normalizePage(5000, 0)
	assert.Equal(t, MaxLimit, l)
}

func contents(msgs []*Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
