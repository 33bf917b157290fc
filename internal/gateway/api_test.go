// ABOUTME: Tests for the REST session, message, stats and export/import handlers
// ABOUTME: Covers agent-turn status mapping for posted user messages

package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/llm/llmtest"
	"github.com/2389/jacox/internal/store"
)

func TestCreateSession(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})

	rec := do(t, gw, http.MethodPost, "/sessions", CreateSessionRequest{
		Name:     "planning",
		Metadata: map[string]any{"system_prompt": "Be terse."},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeBody[store.Session](t, rec)
	assert.Equal(t, "planning", created.Name)
	assert.Equal(t, "Be terse.", created.Metadata["system_prompt"])

	got, err := s.GetSession(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "planning", got.Name)
}

func TestCreateSession_Validation(t *testing.T) {
	gw, _ := newTestGateway(t, &llmtest.Fake{})

	rec := do(t, gw, http.MethodPost, "/sessions", CreateSessionRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodPost, "/sessions", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessions_Pagination(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})
	for _, name := range []string{"a", "b", "c"} {
		newSession(t, s, name)
	}

	rec := do(t, gw, http.MethodGet, "/sessions?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]store.Session](t, rec), 2)

	rec = do(t, gw, http.MethodGet, "/sessions?limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]store.Session](t, rec), 1)

	rec = do(t, gw, http.MethodGet, "/sessions?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodGet, "/sessions?offset=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUpdateDeleteSession(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})
	session := newSession(t, s, "old")

	rec := do(t, gw, http.MethodGet, "/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	name := "new"
	rec = do(t, gw, http.MethodPatch, "/sessions/"+session.ID, UpdateSessionRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", decodeBody[store.Session](t, rec).Name)

	rec = do(t, gw, http.MethodDelete, "/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec = do(t, gw, method, "/sessions/"+session.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
	}
	rec = do(t, gw, http.MethodPatch, "/sessions/"+session.ID, UpdateSessionRequest{Name: &name})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})
	session := newSession(t, s, "stats")
	require.NoError(t, s.InsertMessage(context.Background(), &store.Message{
		SessionID: session.ID, Role: "assistant", Content: "x", TokenCount: 7,
	}))

	rec := do(t, gw, http.MethodGet, "/sessions/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[store.Stats](t, rec)
	assert.EqualValues(t, 1, stats.TotalSessions)
	assert.EqualValues(t, 1, stats.TotalMessages)
	assert.EqualValues(t, 7, stats.TotalTokens)
}

func TestAddMessage_UserRunsAgentTurn(t *testing.T) {
	fake := &llmtest.Fake{Results: []*llm.Result{{
		Content: "Hi there",
		Model:   "fake-model",
		Usage:   &llm.Usage{InputTokens: 3, OutputTokens: 2},
	}}}
	gw, s := newTestGateway(t, fake)
	session := newSession(t, s, "chat")

	rec := do(t, gw, http.MethodPost, "/sessions/"+session.ID+"/messages", CreateMessageRequest{
		Role: "user", Content: "Hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	reply := decodeBody[store.Message](t, rec)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, "Hi there", reply.Content)
	assert.Equal(t, 5, reply.TokenCount)

	msgs, err := s.ListMessages(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)

	// The registry's tools are offered to the model.
	require.Equal(t, 1, fake.Calls())
	require.Len(t, fake.Options(0).Tools, 1)
	assert.Equal(t, "echo", fake.Options(0).Tools[0].Name)
}

func TestAddMessage_ToolRoundTrip(t *testing.T) {
	fake := &llmtest.Fake{Results: []*llm.Result{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "echo", Arguments: `{"x":1}`}}}},
		{Content: "done"},
	}}
	gw, s := newTestGateway(t, fake)
	session := newSession(t, s, "tools")

	rec := do(t, gw, http.MethodPost, "/sessions/"+session.ID+"/messages", CreateMessageRequest{
		Role: "user", Content: "use the tool",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "done", decodeBody[store.Message](t, rec).Content)

	msgs, err := s.ListMessages(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, `echoed {"x":1}`, msgs[2].Content)
	assert.Equal(t, "call_1", msgs[2].Metadata["tool_call_id"])
}

func TestAddMessage_StatusMapping(t *testing.T) {
	loopForever := []*llm.Result{{ToolCalls: []llm.ToolCall{{ID: "c", Function: llm.FunctionCall{Name: "echo", Arguments: "{}"}}}}}

	tests := []struct {
		name    string
		fake    *llmtest.Fake
		status  int
		message string
	}{
		{"loop exceeded", &llmtest.Fake{Results: loopForever}, http.StatusInternalServerError, "max tool call loops reached"},
		{"rate limited", &llmtest.Fake{Err: llm.StatusError("fake", http.StatusTooManyRequests, "slow down")}, http.StatusTooManyRequests, "LLM error"},
		{"upstream failure", &llmtest.Fake{Err: llm.StatusError("fake", http.StatusInternalServerError, "boom")}, http.StatusBadGateway, "LLM error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, s := newTestGateway(t, tt.fake)
			session := newSession(t, s, "errors")

			rec := do(t, gw, http.MethodPost, "/sessions/"+session.ID+"/messages", CreateMessageRequest{
				Role: "user", Content: "Hello",
			})
			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody[map[string]string](t, rec)
			assert.True(t, strings.HasPrefix(body["error"], tt.message), body["error"])
		})
	}
}

func TestAddMessage_NonUserRolesAreStored(t *testing.T) {
	fake := &llmtest.Fake{}
	gw, s := newTestGateway(t, fake)
	session := newSession(t, s, "notes")

	rec := do(t, gw, http.MethodPost, "/sessions/"+session.ID+"/messages", CreateMessageRequest{
		Role: "Assistant", Content: "noted", Model: "gpt-4o", TokenCount: 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	msg := decodeBody[store.Message](t, rec)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "gpt-4o", msg.Model)
	assert.Zero(t, fake.Calls())
}

func TestAddMessage_Validation(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})
	session := newSession(t, s, "v")
	path := "/sessions/" + session.ID + "/messages"

	rec := do(t, gw, http.MethodPost, path, CreateMessageRequest{Role: "narrator", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodPost, path, CreateMessageRequest{Role: "user", Content: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodPost, "/sessions/missing/messages", CreateMessageRequest{Role: "user", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, gw, http.MethodPost, "/sessions/missing/messages", CreateMessageRequest{Role: "system", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessages(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})
	session := newSession(t, s, "list")
	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, s.InsertMessage(context.Background(), &store.Message{SessionID: session.ID, Role: "user", Content: c}))
	}

	rec := do(t, gw, http.MethodGet, "/sessions/"+session.ID+"/messages?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := decodeBody[[]store.Message](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	rec = do(t, gw, http.MethodGet, "/sessions/missing/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportImportRoundTrip(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})
	session := newSession(t, s, "Trip notes")
	ctx := context.Background()
	require.NoError(t, s.InsertMessage(ctx, &store.Message{SessionID: session.ID, Role: "user", Content: "Where to?"}))
	require.NoError(t, s.InsertMessage(ctx, &store.Message{SessionID: session.ID, Role: "assistant", Content: "Lisbon.\nThen Porto."}))

	rec := do(t, gw, http.MethodGet, "/sessions/"+session.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "session_"+session.ID+".txt")
	exported := rec.Body.String()
	assert.Contains(t, exported, "Session: Trip notes")

	rec = do(t, gw, http.MethodPost, "/sessions/import", exported)
	require.Equal(t, http.StatusCreated, rec.Code)
	imported := decodeBody[store.Session](t, rec)
	assert.Equal(t, "Trip notes", imported.Name)
	assert.NotEqual(t, session.ID, imported.ID)

	msgs, err := s.ListMessages(ctx, imported.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Where to?", msgs[0].Content)
	assert.Equal(t, "Lisbon.\nThen Porto.", msgs[1].Content)
}

func TestExport_HTMLAndBadFormat(t *testing.T) {
	gw, s := newTestGateway(t, &llmtest.Fake{})
	session := newSession(t, s, "html")
	require.NoError(t, s.InsertMessage(context.Background(), &store.Message{SessionID: session.ID, Role: "assistant", Content: "**bold**"}))

	rec := do(t, gw, http.MethodGet, "/sessions/"+session.ID+"/export?format=html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<strong>bold</strong>")

	rec = do(t, gw, http.MethodGet, "/sessions/"+session.ID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodGet, "/sessions/missing/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
