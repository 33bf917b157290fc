// ABOUTME: Conversation service: history to transcript, grounding, one-shot and streamed turns
// ABOUTME: The user message is persisted first; replies are persisted as whole entries

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/jacox/internal/agent"
	"github.com/2389/jacox/internal/config"
	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/relay"
	"github.com/2389/jacox/internal/store"
)

// dateLayout renders e.g. "Saturday, March 09, 2024".
const dateLayout = "Monday, January 02, 2006"

// Toolset is what the service needs from the tool registry.
type Toolset interface {
	agent.Invoker
	Definitions() []llm.ToolDefinition
}

// Config wires a Service.
type Config struct {
	Store    store.Store
	Provider llm.Provider
	Tools    Toolset
	Chat     config.ChatConfig
	Logger   *slog.Logger
}

// Service runs turns against stored sessions.
type Service struct {
	store    store.Store
	provider llm.Provider
	tools    Toolset
	loop     *agent.Loop
	chat     config.ChatConfig
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service and the agent loop it drives.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var invoker agent.Invoker
	if cfg.Tools != nil {
		invoker = cfg.Tools
	}
	return &Service{
		store:    cfg.Store,
		provider: cfg.Provider,
		tools:    cfg.Tools,
		loop: agent.New(agent.Config{
			Provider: cfg.Provider,
			Store:    cfg.Store,
			Tools:    invoker,
			Logger:   logger,
		}),
		chat:   cfg.Chat,
		logger: logger.With("component", "conversation"),
		now:    time.Now,
	}
}

// Loop returns the agent loop used for one-shot turns.
func (s *Service) Loop() *agent.Loop {
	return s.loop
}

// Provider returns the model backend.
func (s *Service) Provider() llm.Provider {
	return s.provider
}

// ToolDefinitions returns the registry's tools, or nil when none are configured.
func (s *Service) ToolDefinitions() []llm.ToolDefinition {
	if s.tools == nil {
		return nil
	}
	return s.tools.Definitions()
}

// Ground prefixes prompt with the current date and fills {current_date}.
func Ground(prompt string, now time.Time) string {
	date := now.Format(dateLayout)
	return fmt.Sprintf("Current Date: %s.\n\n%s", date, strings.ReplaceAll(prompt, "{current_date}", date))
}

// Ground applies Ground with the service clock.
func (s *Service) Ground(prompt string) string {
	return Ground(prompt, s.now())
}

// CurrentDate renders today's date as it appears in grounded prompts.
func (s *Service) CurrentDate() string {
	return s.now().Format(dateLayout)
}

// SystemPrompt returns the grounded prompt for session, honouring a
// "system_prompt" metadata override.
func (s *Service) SystemPrompt(session *store.Session) string {
	prompt := s.chat.SystemPrompt
	if session != nil {
		if override, ok := session.Metadata["system_prompt"].(string); ok && override != "" {
			prompt = override
		}
	}
	return s.Ground(prompt)
}

// History loads the newest max_history_messages entries of a session as a
// transcript. A window that opens on tool results whose request fell outside
// it is trimmed forward to the next non-tool entry.
func (s *Service) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	limit := s.chat.MaxHistoryMessages
	if limit <= 0 {
		limit = store.DefaultLimit
	}
	stored, err := s.store.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	for len(stored) > 0 && stored[0].Role == string(llm.RoleTool) {
		stored = stored[1:]
	}
	transcript := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		transcript = append(transcript, ToLLM(m))
	}
	return transcript, nil
}

// ToLLM converts a stored message, restoring tool call data from metadata.
func ToLLM(m *store.Message) llm.Message {
	msg := llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	if raw, ok := m.Metadata["tool_calls"]; ok && raw != nil {
		// Metadata may hold typed calls (fresh) or decoded JSON (from disk).
		if data, err := json.Marshal(raw); err == nil {
			var calls []llm.ToolCall
			if json.Unmarshal(data, &calls) == nil && len(calls) > 0 {
				msg.ToolCalls = calls
			}
		}
	}
	if id, ok := m.Metadata["tool_call_id"].(string); ok {
		msg.ToolCallID = id
	}
	return msg
}

// begin validates the session and persists the user message.
func (s *Service) begin(ctx context.Context, sessionID, content string) (*store.Session, []llm.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, agent.ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}

	user := &store.Message{SessionID: sessionID, Role: string(llm.RoleUser), Content: content}
	if err := s.store.InsertMessage(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("saving user message: %w", err)
	}

	transcript, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, transcript, nil
}

// ReplyOptions tunes a one-shot turn.
type ReplyOptions struct {
	Model string
}

// Reply persists content as a user message and runs the agent loop with the
// registry's tools until the model answers.
func (s *Service) Reply(ctx context.Context, sessionID, content string, opts ReplyOptions) (*agent.Response, error) {
	session, transcript, err := s.begin(ctx, sessionID, content)
	if err != nil {
		return nil, err
	}

	s.logger.Info("running turn", "session_id", sessionID, "history", len(transcript))
	return s.loop.Run(ctx, agent.Request{
		SessionID:  sessionID,
		Transcript: transcript,
		Options: llm.Options{
			Model:        opts.Model,
			SystemPrompt: s.SystemPrompt(session),
			Tools:        s.ToolDefinitions(),
		},
	})
}

// StreamResult is the outcome of a completed stream.
type StreamResult struct {
	Content string
	// Message is the persisted assistant entry, nil if persistence failed.
	Message *store.Message
}

// Stream persists content as a user message, streams the reply through
// emit and persists the concatenated reply once.
//
// When ctx is cancelled mid-stream nothing further is emitted or persisted
// and ctx.Err() is returned. An emit error stops the stream; text relayed so
// far is still persisted. A provider error is returned after persisting any
// partial text.
func (s *Service) Stream(ctx context.Context, sessionID, content string, emit func(string) error) (*StreamResult, error) {
	session, transcript, err := s.begin(ctx, sessionID, content)
	if err != nil {
		return nil, err
	}

	opts := llm.Options{SystemPrompt: s.SystemPrompt(session)}
	logger := s.logger.With("session_id", sessionID, "provider", s.provider.Name())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream := relay.Start(runCtx, func(ctx context.Context, sink chan<- string) error {
		return s.provider.CompleteStreaming(ctx, transcript, opts, sink)
	})

	var full strings.Builder
	var emitErr error
	for tok := range stream.Tokens() {
		if ctx.Err() != nil {
			break
		}
		full.WriteString(tok)
		if err := emit(tok); err != nil {
			emitErr = err
			break
		}
	}
	cancel()
	streamErr := stream.Wait()

	if err := ctx.Err(); err != nil {
		logger.Info("stream aborted", "relayed_bytes", full.Len())
		return nil, err
	}
	if emitErr == nil && streamErr != nil {
		logger.Error("streaming completion failed", "error", streamErr)
	}

	result := &StreamResult{Content: full.String()}
	if full.Len() > 0 || (emitErr == nil && streamErr == nil) {
		msg := &store.Message{
			SessionID:  sessionID,
			Role:       string(llm.RoleAssistant),
			Content:    result.Content,
			Model:      s.provider.Name(),
			TokenCount: max(len(result.Content)/4, 1),
		}
		if err := s.store.InsertMessage(context.WithoutCancel(ctx), msg); err != nil {
			logger.Error("failed to persist streamed reply", "error", err)
		} else {
			result.Message = msg
		}
	}

	if emitErr != nil {
		return result, emitErr
	}
	if streamErr != nil {
		return result, streamErr
	}
	return result, nil
}
