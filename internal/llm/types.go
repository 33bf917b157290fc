// ABOUTME: Vendor-neutral chat model shared by adapters, the agent loop and transports
// ABOUTME: Messages, tool calls, tool definitions, options and results

package llm

// Role identifies the author of a message in a transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Default sampling settings applied by adapters when Options leaves them unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// Message is one entry of a transcript.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model's request to run a named function.
// Arguments holds the raw serialized JSON exactly as the vendor sent it.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Options tunes a single completion. Every field is advisory; adapters fill
// defaults for anything left unset.
type Options struct {
	Model        string
	Temperature  *float64
	MaxTokens    *int
	SystemPrompt string
	Tools        []ToolDefinition
	ToolChoice   any
}

// TemperatureOr returns the requested temperature or def.
func (o Options) TemperatureOr(def float64) float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return def
}

// MaxTokensOr returns the requested output limit or def.
func (o Options) MaxTokensOr(def int) int {
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		return *o.MaxTokens
	}
	return def
}

// ModelOr returns the requested model or def.
func (o Options) ModelOr(def string) string {
	if o.Model != "" {
		return o.Model
	}
	return def
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Result is the outcome of one Complete call.
type Result struct {
	Content   string
	Model     string
	Usage     *Usage
	ToolCalls []ToolCall
}

// Finished reports whether the turn is complete. A result that still
// requests tools is never finished.
func (r *Result) Finished() bool {
	return len(r.ToolCalls) == 0
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message, optionally carrying tool calls.
func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds a tool-result message answering the call with the given id.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}
