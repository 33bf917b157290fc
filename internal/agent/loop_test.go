// ABOUTME: Tests for the bounded agent loop
// ABOUTME: Final answers, tool dispatch, the iteration bound and best-effort persistence

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/llm/llmtest"
	"github.com/2389/jacox/internal/store"
	"github.com/2389/jacox/internal/tools"
)

type recordingInvoker struct {
	calls []string
}

func (r *recordingInvoker) Invoke(_ context.Context, name, arguments string) string {
	r.calls = append(r.calls, name+" "+arguments)
	return "result for " + arguments
}

func searchCall(id, query string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{
		Name: "internet_search", Arguments: `{"query":"` + query + `"}`,
	}}
}

func newSession(t *testing.T, s store.Store) string {
	t.Helper()
	session, err := s.CreateSession(context.Background(), "test", nil)
	require.NoError(t, err)
	return session.ID
}

func storedMessages(t *testing.T, s store.Store, sessionID string) []*store.Message {
	t.Helper()
	msgs, err := s.ListMessages(context.Background(), sessionID, 0, 0)
	require.NoError(t, err)
	return msgs
}

func TestRun_FinalAnswerFirstCall(t *testing.T) {
	s := store.NewMockStore()
	sessionID := newSession(t, s)
	provider := &llmtest.Fake{Results: []*llm.Result{{
		Content: "Hello", Model: "gpt-4o", Usage: &llm.Usage{InputTokens: 3, OutputTokens: 2},
	}}}
	loop := New(Config{Provider: provider, Store: s, Tools: &recordingInvoker{}})

	resp, err := loop.Run(context.Background(), Request{
		SessionID:  sessionID,
		Transcript: []llm.Message{llm.UserMessage("Hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, 1, resp.Calls)

	msgs := storedMessages(t, s, sessionID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "gpt-4o", msgs[0].Model)
	assert.Equal(t, 5, msgs[0].TokenCount)
	assert.Equal(t, msgs[0].ID, resp.Message.ID)
}

func TestRun_SingleToolRoundTrip(t *testing.T) {
	s := store.NewMockStore()
	sessionID := newSession(t, s)
	provider := &llmtest.Fake{Results: []*llm.Result{
		{Model: "m", ToolCalls: []llm.ToolCall{searchCall("call_1", "x")}},
		{Model: "m", Content: "Found it"},
	}}
	invoker := &recordingInvoker{}
	loop := New(Config{Provider: provider, Store: s, Tools: invoker})

	resp, err := loop.Run(context.Background(), Request{
		SessionID:  sessionID,
		Transcript: []llm.Message{llm.UserMessage("look up x")},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, provider.Calls())
	assert.Equal(t, "Found it", resp.Content)
	assert.Equal(t, []string{`internet_search {"query":"x"}`}, invoker.calls)

	msgs := storedMessages(t, s, sessionID)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.NotNil(t, msgs[0].Metadata["tool_calls"])
	assert.Equal(t, "tool", msgs[1].Role)
	assert.Equal(t, "call_1", msgs[1].Metadata["tool_call_id"])
	assert.Equal(t, `result for {"query":"x"}`, msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "Found it", msgs[2].Content)

	second := provider.Transcript(1)
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, llm.ToolMessage("call_1", `result for {"query":"x"}`), second[2])
}

func TestRun_LoopExceededAfterFiveCalls(t *testing.T) {
	s := store.NewMockStore()
	sessionID := newSession(t, s)
	provider := &llmtest.Fake{Results: []*llm.Result{
		{ToolCalls: []llm.ToolCall{searchCall("", "again")}},
	}}
	loop := New(Config{Provider: provider, Store: s, Tools: &recordingInvoker{}})

	_, err := loop.Run(context.Background(), Request{
		SessionID:  sessionID,
		Transcript: []llm.Message{llm.UserMessage("loop forever")},
	})

	assert.ErrorIs(t, err, ErrLoopExceeded)
	assert.EqualError(t, err, "max tool call loops reached")
	assert.Equal(t, MaxIterations, provider.Calls())
	// Five assistant entries, each followed by its tool entry.
	assert.Len(t, storedMessages(t, s, sessionID), 2*MaxIterations)
}

func TestRun_SynthesizesMatchingToolCallIDs(t *testing.T) {
	s := store.NewMockStore()
	sessionID := newSession(t, s)
	provider := &llmtest.Fake{Results: []*llm.Result{
		{ToolCalls: []llm.ToolCall{
			{Function: llm.FunctionCall{Name: "a", Arguments: "{}"}},
			{Function: llm.FunctionCall{Name: "b", Arguments: "{}"}},
		}},
		{Content: "done"},
	}}
	loop := New(Config{Provider: provider, Store: s, Tools: &recordingInvoker{}})

	resp, err := loop.Run(context.Background(), Request{SessionID: sessionID, Transcript: []llm.Message{llm.UserMessage("go")}})
	require.NoError(t, err)

	assistant := resp.Transcript[1]
	require.Len(t, assistant.ToolCalls, 2)
	for i, tc := range assistant.ToolCalls {
		assert.NotEmpty(t, tc.ID)
		assert.Equal(t, "function", tc.Type)
		assert.Equal(t, tc.ID, resp.Transcript[2+i].ToolCallID)
	}
	assert.NotEqual(t, assistant.ToolCalls[0].ID, assistant.ToolCalls[1].ID)
}

func TestRun_UnknownToolThroughRegistry(t *testing.T) {
	provider := &llmtest.Fake{Results: []*llm.Result{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Function: llm.FunctionCall{Name: "nope", Arguments: "{}"}}}},
		{Content: "sorry"},
	}}
	loop := New(Config{Provider: provider, Tools: tools.NewRegistry(nil)})

	resp, err := loop.Run(context.Background(), Request{Transcript: []llm.Message{llm.UserMessage("go")}})
	require.NoError(t, err)
	assert.Equal(t, "Error: Tool 'nope' not found", resp.Transcript[2].Content)
}

func TestRun_PersistenceFailureIsSwallowed(t *testing.T) {
	s := store.NewMockStore()
	sessionID := newSession(t, s)
	s.InsertErr = errors.New("disk full")
	provider := &llmtest.Fake{Results: []*llm.Result{
		{ToolCalls: []llm.ToolCall{searchCall("c1", "x")}},
		{Content: "still answered"},
	}}
	loop := New(Config{Provider: provider, Store: s, Tools: &recordingInvoker{}})

	resp, err := loop.Run(context.Background(), Request{SessionID: sessionID, Transcript: []llm.Message{llm.UserMessage("x")}})
	require.NoError(t, err)
	assert.Equal(t, "still answered", resp.Content)
	assert.Equal(t, 3, s.Inserts)
	assert.Zero(t, resp.Message.ID)
}

func TestRun_ProviderErrorPropagates(t *testing.T) {
	s := store.NewMockStore()
	sessionID := newSession(t, s)
	upstream := llm.StatusError("openai", 429, `{"error":"slow down"}`)
	provider := &llmtest.Fake{Err: upstream}
	loop := New(Config{Provider: provider, Store: s})

	_, err := loop.Run(context.Background(), Request{SessionID: sessionID, Transcript: []llm.Message{llm.UserMessage("x")}})
	assert.True(t, llm.IsRateLimited(err))
	assert.Empty(t, storedMessages(t, s, sessionID))
}

func TestRun_UnknownSession(t *testing.T) {
	provider := &llmtest.Fake{}
	loop := New(Config{Provider: provider, Store: store.NewMockStore()})

	_, err := loop.Run(context.Background(), Request{SessionID: "missing", Transcript: []llm.Message{llm.UserMessage("x")}})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, provider.Calls())
}

func TestRun_NoSessionSkipsPersistence(t *testing.T) {
	s := store.NewMockStore()
	provider := &llmtest.Fake{Results: []*llm.Result{{Content: "ok"}}}
	loop := New(Config{Provider: provider, Store: s})

	_, err := loop.Run(context.Background(), Request{Transcript: []llm.Message{llm.UserMessage("x")}})
	require.NoError(t, err)
	assert.Zero(t, s.Inserts)
}

func TestRun_MetadataMergedIntoEntries(t *testing.T) {
	s := store.NewMockStore()
	sessionID := newSession(t, s)
	provider := &llmtest.Fake{Results: []*llm.Result{
		{ToolCalls: []llm.ToolCall{searchCall("c1", "x")}},
		{Content: "ok"},
	}}
	loop := New(Config{Provider: provider, Store: s, Tools: &recordingInvoker{}})

	_, err := loop.Run(context.Background(), Request{
		SessionID:  sessionID,
		Transcript: []llm.Message{llm.UserMessage("x")},
		Metadata:   map[string]any{"source": "openai_adapter"},
	})
	require.NoError(t, err)

	for _, m := range storedMessages(t, s, sessionID) {
		assert.Equal(t, "openai_adapter", m.Metadata["source"], m.Role)
	}
}

func TestRun_OptionsForwarded(t *testing.T) {
	provider := &llmtest.Fake{Results: []*llm.Result{{Content: "ok"}}}
	loop := New(Config{Provider: provider})
	opts := llm.Options{Model: "special", Tools: []llm.ToolDefinition{{Name: "internet_search"}}}

	_, err := loop.Run(context.Background(), Request{Transcript: []llm.Message{llm.UserMessage("x")}, Options: opts})
	require.NoError(t, err)
	assert.Equal(t, "special", provider.Options(0).Model)
	assert.Len(t, provider.Options(0).Tools, 1)
}
