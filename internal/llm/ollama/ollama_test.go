// ABOUTME: Tests for the Ollama adapter and the inline tool call fallback
// ABOUTME: Uses a fake /api/chat server for request and NDJSON stream checks

package ollama

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2389/jacox/internal/llm"
)

func TestExtractToolCalls_BareShape(t *testing.T) {
	calls, visible, ok := ExtractToolCalls(`prefix [{"name":"f","arguments":"{}"}]`)

	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "f", calls[0].Function.Name)
	assert.Equal(t, "{}", calls[0].Function.Arguments)
	assert.Equal(t, "prefix", visible)
}

func TestExtractToolCalls_WrappedShapeWithObjectArguments(t *testing.T) {
	content := `Searching now.
[{"function":{"name":"internet_search","arguments":{"query":"go [generics]"}}}] trailing`

	calls, visible, ok := ExtractToolCalls(content)

	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "internet_search", calls[0].Function.Name)
	assert.JSONEq(t, `{"query":"go [generics]"}`, calls[0].Function.Arguments)
	assert.Equal(t, "Searching now.", visible)
}

func TestExtractToolCalls_LeavesContentAlone(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no bracket", "plain answer"},
		{"unterminated", `oops [{"name":"f"`},
		{"not json", "list [a, b]"},
		{"no callable entries", `numbers [1, 2, 3]`},
		{"objects without name", `[{"foo":"bar"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, visible, ok := ExtractToolCalls(tt.content)
			assert.False(t, ok)
			assert.Nil(t, calls)
			assert.Equal(t, tt.content, visible)
		})
	}
}

func newFakeVendor(t *testing.T, handler func(w http.ResponseWriter, body gjson.Result)) *Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		handler(w, gjson.ParseBytes(data))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "llama3.2", srv.Client())
}

func TestComplete_FallbackApplied(t *testing.T) {
	p := newFakeVendor(t, func(w http.ResponseWriter, body gjson.Result) {
		assert.Equal(t, "llama3.2", body.Get("model").String())
		assert.Equal(t, int64(4096), body.Get("options.num_predict").Int())
		assert.InDelta(t, 0.7, body.Get("options.temperature").Float(), 0.001)
		assert.Equal(t, "system", body.Get("messages.0.role").String())
		assert.Equal(t, "internet_search", body.Get("tools.0.function.name").String())
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"prefix [{\"name\":\"f\",\"arguments\":\"{}\"}]"},"done":true}`)
	})

	opts := llm.Options{SystemPrompt: "sys", Tools: []llm.ToolDefinition{{Name: "internet_search"}}}
	res, err := p.Complete(context.Background(), []llm.Message{llm.UserMessage("x")}, opts)

	require.NoError(t, err)
	assert.Equal(t, "prefix", res.Content)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "f", res.ToolCalls[0].Function.Name)
	assert.Nil(t, res.Usage)
}

func TestComplete_StructuredCallsWin(t *testing.T) {
	p := newFakeVendor(t, func(w http.ResponseWriter, _ gjson.Result) {
		_, _ = io.WriteString(w, `{"message":{"content":"see [1]","tool_calls":[{"function":{"name":"g","arguments":{"a":1}}}]}}`)
	})

	res, err := p.Complete(context.Background(), []llm.Message{llm.UserMessage("x")}, llm.Options{})

	require.NoError(t, err)
	assert.Equal(t, "see [1]", res.Content)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "g", res.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"a":1}`, res.ToolCalls[0].Function.Arguments)
}

func TestComplete_SendsToolCallArgumentsAsObjects(t *testing.T) {
	p := newFakeVendor(t, func(w http.ResponseWriter, body gjson.Result) {
		assert.Equal(t, "x", body.Get("messages.1.tool_calls.0.function.arguments.q").String())
		assert.Equal(t, "tool", body.Get("messages.2.role").String())
		_, _ = io.WriteString(w, `{"message":{"content":"done"}}`)
	})

	transcript := []llm.Message{
		llm.UserMessage("q"),
		llm.AssistantMessage("", []llm.ToolCall{{ID: "1", Function: llm.FunctionCall{Name: "f", Arguments: `{"q":"x"}`}}}),
		llm.ToolMessage("1", "r"),
	}
	res, err := p.Complete(context.Background(), transcript, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
}

func TestComplete_StatusError(t *testing.T) {
	p := newFakeVendor(t, func(w http.ResponseWriter, _ gjson.Result) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	})

	_, err := p.Complete(context.Background(), []llm.Message{llm.UserMessage("x")}, llm.Options{})

	require.Error(t, err)
	assert.Equal(t, llm.KindAPI, llm.KindOf(err))
	assert.Contains(t, err.Error(), "model not found")
}

func TestCompleteStreaming_NDJSON(t *testing.T) {
	p := newFakeVendor(t, func(w http.ResponseWriter, body gjson.Result) {
		assert.True(t, body.Get("stream").Bool())
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"done":true,"eval_count":2}`+"\n")
	})

	sink := make(chan string, 10)
	require.NoError(t, p.CompleteStreaming(context.Background(), []llm.Message{llm.UserMessage("x")}, llm.Options{}, sink))
	close(sink)

	var got []string
	for tok := range sink {
		got = append(got, tok)
	}
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestCompleteStreaming_ErrorLine(t *testing.T) {
	p := newFakeVendor(t, func(w http.ResponseWriter, _ gjson.Result) {
		_, _ = io.WriteString(w, `{"error":"out of memory"}`+"\n")
	})

	err := p.CompleteStreaming(context.Background(), []llm.Message{llm.UserMessage("x")}, llm.Options{}, make(chan string, 1))
	assert.Equal(t, llm.KindAPI, llm.KindOf(err))
}
