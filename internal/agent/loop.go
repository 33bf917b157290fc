// ABOUTME: Bounded agent loop: call the model, run requested tools, feed results back.
// ABOUTME: Persists every assistant and tool entry as it is produced.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/store"
)

// MaxIterations is the number of provider calls allowed per Run.
const MaxIterations = 5

// ErrLoopExceeded indicates the model was still requesting tools after the last allowed call.
var ErrLoopExceeded = errors.New("max tool call loops reached")

// ErrSessionNotFound indicates the request named a session that does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Invoker runs a named tool. It never fails; problems come back as text.
type Invoker interface {
	Invoke(ctx context.Context, name, arguments string) string
}

// Config wires a Loop to its collaborators.
type Config struct {
	Provider llm.Provider
	Store    store.Store
	Tools    Invoker
	Logger   *slog.Logger
	// MaxIterations overrides the default bound when positive.
	MaxIterations int
}

// Request is one external turn.
type Request struct {
	// SessionID selects where entries are persisted. Empty disables persistence.
	SessionID  string
	Transcript []llm.Message
	Options    llm.Options
	// Metadata is merged into every persisted entry.
	Metadata map[string]any
}

// Response is the outcome of a finished run.
type Response struct {
	Content string
	Model   string
	Usage   *llm.Usage
	// Message is the final assistant entry. ID is zero when it was not persisted.
	Message *store.Message
	// Calls counts provider calls made during the run.
	Calls int
	// Transcript is the request transcript extended with every entry the run produced.
	Transcript []llm.Message
}

// Loop drives a model through tool calls until it produces a final answer.
type Loop struct {
	provider      llm.Provider
	store         store.Store
	tools         Invoker
	logger        *slog.Logger
	maxIterations int
}

// New creates a Loop.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MaxIterations
	if limit <= 0 {
		limit = MaxIterations
	}
	return &Loop{
		provider:      cfg.Provider,
		store:         cfg.Store,
		tools:         cfg.Tools,
		logger:        logger.With("component", "agent"),
		maxIterations: limit,
	}
}

// Provider returns the backend the loop calls.
func (l *Loop) Provider() llm.Provider {
	return l.provider
}

// Run executes one request. Provider errors end the run and are returned
// unchanged so callers can inspect their llm.Error kind.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	if req.SessionID != "" && l.store != nil {
		if _, err := l.store.GetSession(ctx, req.SessionID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("loading session: %w", err)
		}
	}

	transcript := slices.Clone(req.Transcript)
	logger := l.logger.With("session_id", req.SessionID, "provider", l.provider.Name())

	for call := 1; call <= l.maxIterations; call++ {
		result, err := l.provider.Complete(ctx, transcript, req.Options)
		if err != nil {
			logger.Error("provider call failed", "call", call, "error", err)
			return nil, err
		}

		if result.Finished() {
			final := &store.Message{
				SessionID: req.SessionID,
				Role:      string(llm.RoleAssistant),
				Content:   result.Content,
				Model:     result.Model,
				Metadata:  mergeMetadata(req.Metadata, nil),
			}
			if result.Usage != nil {
				final.TokenCount = result.Usage.Total()
			}
			l.persist(ctx, logger, final)
			transcript = append(transcript, llm.AssistantMessage(result.Content, nil))

			logger.Debug("run finished", "calls", call)
			return &Response{
				Content:    result.Content,
				Model:      result.Model,
				Usage:      result.Usage,
				Message:    final,
				Calls:      call,
				Transcript: transcript,
			}, nil
		}

		calls := resolveCalls(result.ToolCalls)
		transcript = append(transcript, llm.AssistantMessage(result.Content, calls))
		l.persist(ctx, logger, &store.Message{
			SessionID: req.SessionID,
			Role:      string(llm.RoleAssistant),
			Content:   result.Content,
			Model:     result.Model,
			Metadata:  mergeMetadata(req.Metadata, map[string]any{"tool_calls": calls}),
		})

		for _, tc := range calls {
			logger.Info("dispatching tool", "tool", tc.Function.Name, "tool_call_id", tc.ID, "call", call)
			output := l.invoke(ctx, tc)
			transcript = append(transcript, llm.ToolMessage(tc.ID, output))
			l.persist(ctx, logger, &store.Message{
				SessionID: req.SessionID,
				Role:      string(llm.RoleTool),
				Content:   output,
				Metadata:  mergeMetadata(req.Metadata, map[string]any{"tool_call_id": tc.ID}),
			})
		}
	}

	logger.Warn("tool call bound reached", "limit", l.maxIterations)
	return nil, ErrLoopExceeded
}

func (l *Loop) invoke(ctx context.Context, tc llm.ToolCall) string {
	if l.tools == nil {
		return fmt.Sprintf("Error: Tool '%s' not found", tc.Function.Name)
	}
	return l.tools.Invoke(ctx, tc.Function.Name, tc.Function.Arguments)
}

// persist writes msg when the request is bound to a session. Failures are logged only.
func (l *Loop) persist(ctx context.Context, logger *slog.Logger, msg *store.Message) {
	if msg.SessionID == "" || l.store == nil {
		return
	}
	if err := l.store.InsertMessage(ctx, msg); err != nil {
		logger.Error("failed to persist message", "role", msg.Role, "error", err)
	}
}

// resolveCalls returns a copy of calls with every id and type filled in.
func resolveCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		out[i] = tc
	}
	return out
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}
