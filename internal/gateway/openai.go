// ABOUTME: OpenAI-compatible /v1/chat/completions and /v1/models endpoints
// ABOUTME: Grounds system prompts, offers registry tools and optionally persists to a session

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/2389/jacox/internal/agent"
	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/llm/openai"
	"github.com/2389/jacox/internal/relay"
	"github.com/2389/jacox/internal/store"
)

// SessionHeader binds an OpenAI-style request to a stored session.
const SessionHeader = "X-Jacox-Session-Id"

// compatSource tags entries persisted through the compatibility endpoint.
const compatSource = "openai_adapter"

const maxCompletionRequestBytes = 8 << 20

// compatRequest is a decoded chat completion request plus the fields whose
// absence matters.
type compatRequest struct {
	goopenai.ChatCompletionRequest
	hasTemperature bool
}

func decodeCompatRequest(r io.Reader) (*compatRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxCompletionRequestBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON body")
	}
	var req compatRequest
	if err := json.Unmarshal(body, &req.ChatCompletionRequest); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req.hasTemperature = gjson.GetBytes(body, "temperature").Exists()
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages is required")
	}
	return &req, nil
}

// groundTranscript prefixes every system message with the current date and
// fills {current_date} everywhere. A grounding-only system message is
// inserted when the request carries none.
func (g *Gateway) groundTranscript(msgs []llm.Message) []llm.Message {
	date := g.conversation.CurrentDate()

	out := make([]llm.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			m.Content = g.conversation.Ground(m.Content)
		} else {
			m.Content = strings.ReplaceAll(m.Content, "{current_date}", date)
		}
		out = append(out, m)
	}
	return llm.WithSystem(out, strings.TrimSpace(g.conversation.Ground("")))
}

func (g *Gateway) compatOptions(req *compatRequest) llm.Options {
	opts := llm.Options{
		Model:      req.Model,
		Tools:      openai.FromWireTools(req.Tools),
		ToolChoice: req.ToolChoice,
	}
	if req.hasTemperature {
		t := float64(req.Temperature)
		opts.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		opts.MaxTokens = &n
	} else if req.MaxCompletionTokens > 0 {
		n := req.MaxCompletionTokens
		opts.MaxTokens = &n
	}
	// Streaming forwards text deltas only, so registry tools are offered on
	// one-shot completions alone.
	if len(opts.Tools) == 0 && !req.Stream {
		opts.Tools = g.tools.Definitions()
	}
	return opts
}

// compatSession resolves the session header. An unknown session disables
// persistence rather than failing the request.
func (g *Gateway) compatSession(ctx context.Context, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(SessionHeader))
	if id == "" {
		return ""
	}
	if _, err := g.store.GetSession(ctx, id); err != nil {
		g.logger.Warn("ignoring session header", "session_id", id, "error", err)
		return ""
	}
	return id
}

func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCompatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	sessionID := g.compatSession(ctx, r)
	transcript := g.groundTranscript(openai.FromWireMessages(req.Messages))
	opts := g.compatOptions(req)

	if sessionID != "" {
		if last := req.Messages[len(req.Messages)-1]; last.Role == goopenai.ChatMessageRoleUser {
			msg := &store.Message{
				SessionID: sessionID,
				Role:      string(llm.RoleUser),
				Content:   last.Content,
				Model:     req.Model,
				Metadata:  map[string]any{"source": compatSource},
			}
			if err := g.store.InsertMessage(ctx, msg); err != nil {
				g.logger.Error("failed to persist user message", "session_id", sessionID, "error", err)
			}
		}
	}

	if req.Stream {
		g.streamCompletion(w, r, req, sessionID, transcript, opts)
		return
	}

	resp, err := g.conversation.Loop().Run(ctx, agent.Request{
		SessionID:  sessionID,
		Transcript: transcript,
		Options:    opts,
		Metadata:   map[string]any{"source": compatSource},
	})
	if err != nil {
		g.sendRunError(w, err)
		return
	}

	out := goopenai.ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []goopenai.ChatCompletionChoice{{
			Index: 0,
			Message: goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: resp.Content,
			},
			FinishReason: goopenai.FinishReasonStop,
		}},
	}
	if resp.Usage != nil {
		out.Usage = goopenai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.Total(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// streamCompletion relays fragments as chat.completion.chunk events: an
// opening role delta, one chunk per fragment, a stop chunk, then [DONE].
func (g *Gateway) streamCompletion(w http.ResponseWriter, r *http.Request, req *compatRequest, sessionID string, transcript []llm.Message, opts llm.Options) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	id := completionID()
	chunk := func(delta goopenai.ChatCompletionStreamChoiceDelta, finish goopenai.FinishReason) goopenai.ChatCompletionStreamResponse {
		return goopenai.ChatCompletionStreamResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []goopenai.ChatCompletionStreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	g.writeSSEData(w, chunk(goopenai.ChatCompletionStreamChoiceDelta{Role: goopenai.ChatMessageRoleAssistant}, ""))
	flusher.Flush()

	stream := relay.Start(ctx, func(ctx context.Context, sink chan<- string) error {
		return g.provider.CompleteStreaming(ctx, transcript, opts, sink)
	})

	var full strings.Builder
	for tok := range stream.Tokens() {
		full.WriteString(tok)
		g.writeSSEData(w, chunk(goopenai.ChatCompletionStreamChoiceDelta{Content: tok}, ""))
		flusher.Flush()
	}
	<-stream.Done()

	if ctx.Err() != nil {
		g.logger.Info("completion stream aborted by client")
		return
	}
	if err := stream.Err(); err != nil {
		g.logger.Error("completion stream failed", "error", err)
		_, message := runErrorStatus(err)
		g.writeSSEData(w, map[string]any{"error": map[string]string{"message": message}})
	}

	if sessionID != "" && full.Len() > 0 {
		msg := &store.Message{
			SessionID: sessionID,
			Role:      string(llm.RoleAssistant),
			Content:   full.String(),
			Model:     req.Model,
			Metadata:  map[string]any{"source": compatSource},
		}
		if err := g.store.InsertMessage(ctx, msg); err != nil {
			g.logger.Error("failed to persist streamed reply", "session_id", sessionID, "error", err)
		}
	}

	g.writeSSEData(w, chunk(goopenai.ChatCompletionStreamChoiceDelta{}, goopenai.FinishReasonStop))
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleListModels lists the active provider's models in OpenAI shape.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	list := goopenai.ModelsList{}
	for _, id := range g.provider.Models() {
		list.Models = append(list.Models, goopenai.Model{
			ID:      id,
			Object:  "model",
			OwnedBy: g.provider.Name(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": list.Models})
}

// writeSSEData writes one unnamed SSE event carrying v as JSON.
func (g *Gateway) writeSSEData(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}
