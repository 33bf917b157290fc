// ABOUTME: Anthropic messages API adapter
// ABOUTME: System prompt as a side-channel field, tool_use blocks, typed-event streaming

package anthropic

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
const Name = "anthropic"

// DefaultBaseURL is used when no api_base is configured.
const DefaultBaseURL = "https://api.anthropic.com"

// APIVersion is sent in the anthropic-version header.
const APIVersion = "2023-06-01"

var advertised = []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229"}

// Provider talks to the Anthropic /v1/messages endpoint.
type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

// New creates an Anthropic provider. A nil client uses http.DefaultClient.
func New(apiKey, baseURL, defaultModel string, client *http.Client) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       client,
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Models() []string { return advertised }

type request struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	System      string          `json:"system,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []wireTool      `json:"tools,omitempty"`
	ToolChoice  *wireToolChoice `json:"tool_choice,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Complete sends a non-streaming messages request.
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
	return parseMessage(data, model)
}

// CompleteStreaming forwards the text of content_block_delta events.
func (p *Provider) CompleteStreaming(ctx context.Context, transcript []llm.Message, opts llm.Options, sink chan<- string) error {
	model := opts.ModelOr(p.defaultModel)
	resp, err := p.post(ctx, buildRequest(transcript, opts, model, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var streamErr *llm.Error
	err = llm.ScanSSE(ctx, resp.Body, func(data string) error {
		event := gjson.Parse(data)
		switch event.Get("type").String() {
		case "content_block_delta":
			text := event.Get("delta.text")
			if text.Type != gjson.String || text.Str == "" {
				return nil
			}
			return llm.Emit(ctx, sink, text.Str)
		case "error":
			streamErr = &llm.Error{Kind: llm.KindAPI, Provider: Name, Body: event.Get("error").Raw}
			return streamErr
		}
		return nil
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
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": APIVersion,
	}
	return llm.PostJSON(ctx, p.client, Name, p.baseURL+"/v1/messages", headers, body)
}

func buildRequest(transcript []llm.Message, opts llm.Options, model string, stream bool) request {
	system, rest := llm.SplitSystem(transcript, opts.SystemPrompt)

	req := request{
		Model:       model,
		Messages:    toWireMessages(rest),
		System:      system,
		Temperature: opts.TemperatureOr(llm.DefaultTemperature),
		MaxTokens:   opts.MaxTokensOr(llm.DefaultMaxTokens),
		Stream:      stream,
	}
	for _, d := range opts.Tools {
		schema := d.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, wireTool{Name: d.Name, Description: d.Description, InputSchema: schema})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = toolChoice(opts.ToolChoice)
	}
	return req
}

// toWireMessages maps the transcript onto user/assistant turns. Tool results
// become tool_result blocks on a user turn; consecutive results share a turn.
func toWireMessages(msgs []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Role == llm.RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if n := len(out); n > 0 && out[n-1].Role == "user" {
				if blocks, ok := out[n-1].Content.([]contentBlock); ok && isToolResults(blocks) {
					out[n-1].Content = append(blocks, block)
					continue
				}
			}
			out = append(out, wireMessage{Role: "user", Content: []contentBlock{block}})

		case m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0:
			var blocks []contentBlock
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !gjson.Valid(tc.Function.Arguments) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
			}
			out = append(out, wireMessage{Role: "assistant", Content: blocks})

		default:
			out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	return out
}

func isToolResults(blocks []contentBlock) bool {
	for _, b := range blocks {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(blocks) > 0
}

// toolChoice translates the OpenAI-style directive strings.
func toolChoice(choice any) *wireToolChoice {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return &wireToolChoice{Type: "auto"}
		case "required", "any":
			return &wireToolChoice{Type: "any"}
		}
	case map[string]any:
		if name, ok := v["name"].(string); ok && name != "" {
			return &wireToolChoice{Type: "tool", Name: name}
		}
	}
	return nil
}

func parseMessage(data []byte, model string) (*llm.Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, llm.InvalidResponse(Name, errors.New("response is not valid JSON"))
	}
	root := gjson.ParseBytes(data)

	content := root.Get("content")
	if !content.IsArray() {
		return nil, llm.InvalidResponse(Name, errors.New("missing content blocks"))
	}

	result := &llm.Result{Model: model}
	if m := root.Get("model").String(); m != "" {
		result.Model = m
	}

	var text strings.Builder
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "tool_use":
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:       block.Get("id").String(),
				Type:     "function",
				Function: llm.FunctionCall{Name: block.Get("name").String(), Arguments: args},
			})
		}
		return true
	})
	result.Content = text.String()

	if usage := root.Get("usage"); usage.Exists() {
		result.Usage = &llm.Usage{
			InputTokens:  int(usage.Get("input_tokens").Int()),
			OutputTokens: int(usage.Get("output_tokens").Int()),
		}
	}
	return result, nil
}
