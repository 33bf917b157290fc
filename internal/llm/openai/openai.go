// ABOUTME: OpenAI chat completions adapter
// ABOUTME: Inline system prompt, tool calls, and data:/[DONE] framed streaming

package openai

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/2389/jacox/internal/llm"
)

// Name identifies this backend.
const Name = "openai"

// DefaultBaseURL is used when no api_base is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

var advertised = []string{"gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"}

// Provider talks to an OpenAI-compatible /chat/completions endpoint.
type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

// New creates an OpenAI provider. A nil client uses http.DefaultClient.
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

// Complete sends a non-streaming chat completion request.
func (p *Provider) Complete(ctx context.Context, transcript []llm.Message, opts llm.Options) (*llm.Result, error) {
	model := opts.ModelOr(p.defaultModel)
	resp, err := p.post(ctx, p.buildRequest(transcript, opts, model, false))
	if err != nil {
		return nil, err
	}
	data, err := llm.ReadBody(Name, resp)
	if err != nil {
		return nil, err
	}
	return parseCompletion(data, model)
}

// CompleteStreaming sends a streaming request and forwards choices[0].delta.content.
func (p *Provider) CompleteStreaming(ctx context.Context, transcript []llm.Message, opts llm.Options, sink chan<- string) error {
	model := opts.ModelOr(p.defaultModel)
	resp, err := p.post(ctx, p.buildRequest(transcript, opts, model, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	err = llm.ScanSSE(ctx, resp.Body, func(data string) error {
		delta := gjson.Get(data, "choices.0.delta.content")
		if delta.Type != gjson.String || delta.Str == "" {
			return nil
		}
		return llm.Emit(ctx, sink, delta.Str)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return llm.NetworkError(Name, err)
	}
	return nil
}

func (p *Provider) post(ctx context.Context, body goopenai.ChatCompletionRequest) (*http.Response, error) {
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	return llm.PostJSON(ctx, p.client, Name, p.baseURL+"/chat/completions", headers, body)
}

func (p *Provider) buildRequest(transcript []llm.Message, opts llm.Options, model string, stream bool) goopenai.ChatCompletionRequest {
	msgs := llm.WithSystem(transcript, opts.SystemPrompt)

	temperature := float32(opts.TemperatureOr(llm.DefaultTemperature))
	if temperature == 0 {
		// The wire field is omitempty; the smallest float stands in for zero.
		temperature = math.SmallestNonzeroFloat32
	}

	req := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    ToWireMessages(msgs),
		Temperature: temperature,
		MaxTokens:   opts.MaxTokensOr(llm.DefaultMaxTokens),
		Stream:      stream,
		Tools:       ToWireTools(opts.Tools),
	}
	if len(req.Tools) > 0 && opts.ToolChoice != nil {
		req.ToolChoice = opts.ToolChoice
	}
	return req
}

// ToWireMessages converts a transcript into OpenAI message objects.
func ToWireMessages(msgs []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

// FromWireMessages converts OpenAI message objects into a transcript.
func FromWireMessages(msgs []goopenai.ChatCompletionMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, wm := range msgs {
		m := llm.Message{
			Role:       llm.Role(wm.Role),
			Content:    wm.Content,
			ToolCallID: wm.ToolCallID,
		}
		for _, tc := range wm.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
				ID:       tc.ID,
				Type:     string(goopenai.ToolTypeFunction),
				Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		out = append(out, m)
	}
	return out
}

// ToWireTools converts tool definitions into OpenAI function tools.
func ToWireTools(defs []llm.ToolDefinition) []goopenai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// FromWireTools converts OpenAI function tools into tool definitions.
func FromWireTools(tools []goopenai.Tool) []llm.ToolDefinition {
	var out []llm.ToolDefinition
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		def := llm.ToolDefinition{Name: t.Function.Name, Description: t.Function.Description}
		if params, ok := t.Function.Parameters.(map[string]any); ok {
			def.Parameters = params
		}
		out = append(out, def)
	}
	return out
}

func parseCompletion(data []byte, model string) (*llm.Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, llm.InvalidResponse(Name, errors.New("response is not valid JSON"))
	}
	root := gjson.ParseBytes(data)

	msg := root.Get("choices.0.message")
	if !msg.Exists() {
		return nil, llm.InvalidResponse(Name, errors.New("missing choices[0].message"))
	}

	result := &llm.Result{
		Content: msg.Get("content").String(),
		Model:   model,
	}
	if m := root.Get("model").String(); m != "" {
		result.Model = m
	}

	msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		name := tc.Get("function.name").String()
		if name == "" {
			return true
		}
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:   tc.Get("id").String(),
			Type: string(goopenai.ToolTypeFunction),
			Function: llm.FunctionCall{
				Name:      name,
				Arguments: tc.Get("function.arguments").String(),
			},
		})
		return true
	})

	if content := msg.Get("content"); content.Type != gjson.String && len(result.ToolCalls) == 0 {
		return nil, llm.InvalidResponse(Name, errors.New("missing message content"))
	}

	if usage := root.Get("usage"); usage.Exists() {
		result.Usage = &llm.Usage{
			InputTokens:  int(usage.Get("prompt_tokens").Int()),
			OutputTokens: int(usage.Get("completion_tokens").Int()),
		}
	}
	return result, nil
}
