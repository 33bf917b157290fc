// ABOUTME: Ollama /api/chat adapter for local inference
// ABOUTME: NDJSON streaming and a content-embedded tool call fallback

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/2389/jacox/internal/llm"
)

// Name identifies this backend.
const Name = "ollama"

// DefaultBaseURL is used when no base_url is configured.
const DefaultBaseURL = "http://localhost:11434"

var advertised = []string{"llama3.2", "mistral"}

// Provider talks to an Ollama server.
type Provider struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

// New creates an Ollama provider. A nil client uses http.DefaultClient.
func New(baseURL, defaultModel string, client *http.Client) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       client,
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Models() []string { return advertised }

type request struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  wireOptions   `json:"options"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type wireOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Complete sends a non-streaming chat request. When the model emits no
// structured tool calls, the content is checked for an inline JSON call list.
func (p *Provider) Complete(ctx context.Context, transcript []llm.Message, opts llm.Options) (*llm.Result, error) {
	model := opts.ModelOr(p.defaultModel)
	resp, err := p.post(ctx, buildRequest(transcript, opts, model, false))
	if err != nil {
		return nil, err
	}
	data, err := llm.ReadBody(Name, resp)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, llm.InvalidResponse(Name, errors.New("response is not valid JSON"))
	}

	msg := gjson.GetBytes(data, "message")
	result := &llm.Result{
		Content:   msg.Get("content").String(),
		Model:     model,
		ToolCalls: parseStructuredCalls(msg.Get("tool_calls")),
	}

	if len(result.ToolCalls) == 0 {
		if calls, visible, ok := ExtractToolCalls(result.Content); ok {
			result.ToolCalls = calls
			result.Content = visible
		}
	}
	return result, nil
}

// CompleteStreaming reads newline-delimited JSON objects and forwards message.content.
func (p *Provider) CompleteStreaming(ctx context.Context, transcript []llm.Message, opts llm.Options, sink chan<- string) error {
	model := opts.ModelOr(p.defaultModel)
	resp, err := p.post(ctx, buildRequest(transcript, opts, model, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var streamErr *llm.Error
	err = llm.ScanLines(ctx, resp.Body, func(line string) error {
		if !gjson.Valid(line) {
			return nil
		}
		obj := gjson.Parse(line)
		if e := obj.Get("error"); e.Exists() {
			streamErr = &llm.Error{Kind: llm.KindAPI, Provider: Name, Body: e.String()}
			return streamErr
		}
		text := obj.Get("message.content")
		if text.Type != gjson.String || text.Str == "" {
			return nil
		}
		return llm.Emit(ctx, sink, text.Str)
	})
	if err != nil {
		if streamErr != nil {
			return streamErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return llm.NetworkError(Name, err)
	}
	return nil
}

func (p *Provider) post(ctx context.Context, body request) (*http.Response, error) {
	return llm.PostJSON(ctx, p.client, Name, p.baseURL+"/api/chat", nil, body)
}

func buildRequest(transcript []llm.Message, opts llm.Options, model string, stream bool) request {
	msgs := llm.WithSystem(transcript, opts.SystemPrompt)

	req := request{
		Model:  model,
		Stream: stream,
		Options: wireOptions{
			Temperature: opts.TemperatureOr(llm.DefaultTemperature),
			NumPredict:  opts.MaxTokensOr(llm.DefaultMaxTokens),
		},
	}
	for _, m := range msgs {
		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			args := json.RawMessage(tc.Function.Arguments)
			if !gjson.Valid(tc.Function.Arguments) {
				args = json.RawMessage("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{Function: wireFunctionCall{Name: tc.Function.Name, Arguments: args}})
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, d := range opts.Tools {
		req.Tools = append(req.Tools, wireTool{
			Type:     "function",
			Function: wireFunction{Name: d.Name, Description: d.Description, Parameters: d.Parameters},
		})
	}
	return req
}

func parseStructuredCalls(calls gjson.Result) []llm.ToolCall {
	var out []llm.ToolCall
	calls.ForEach(func(_, tc gjson.Result) bool {
		if call, ok := toToolCall(tc); ok {
			out = append(out, call)
		}
		return true
	})
	return out
}

// toToolCall accepts either {function:{name,arguments}} or {name,arguments}.
// Arguments may be a JSON string or an inline JSON value.
func toToolCall(entry gjson.Result) (llm.ToolCall, bool) {
	fn := entry
	if f := entry.Get("function"); f.Exists() {
		fn = f
	}
	name := fn.Get("name")
	if name.Type != gjson.String {
		return llm.ToolCall{}, false
	}

	args := fn.Get("arguments")
	var raw string
	switch {
	case args.Type == gjson.String:
		raw = args.Str
	case args.Exists():
		raw = args.Raw
	default:
		raw = "{}"
	}

	return llm.ToolCall{
		ID:       entry.Get("id").String(),
		Type:     "function",
		Function: llm.FunctionCall{Name: name.Str, Arguments: raw},
	}, true
}

// ExtractToolCalls looks for a JSON array of function calls embedded in
// model output. The array starts at the first '[' and ends at the bracket
// that brings the nesting depth back to zero. When at least one entry parses,
// it returns the calls and the trimmed text before the array. Otherwise ok
// is false and the caller keeps the content unchanged.
func ExtractToolCalls(content string) (calls []llm.ToolCall, visible string, ok bool) {
	start := strings.IndexByte(content, '[')
	if start < 0 {
		return nil, content, false
	}

	end := -1
	depth := 0
scan:
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i + 1
				break scan
			}
		}
	}
	if end < 0 {
		return nil, content, false
	}

	literal := content[start:end]
	if !gjson.Valid(literal) {
		return nil, content, false
	}
	parsed := gjson.Parse(literal)
	if !parsed.IsArray() {
		return nil, content, false
	}

	parsed.ForEach(func(_, entry gjson.Result) bool {
		if call, ok := toToolCall(entry); ok {
			calls = append(calls, call)
		}
		return true
	})
	if len(calls) == 0 {
		return nil, content, false
	}
	return calls, strings.TrimSpace(content[:start]), true
}
