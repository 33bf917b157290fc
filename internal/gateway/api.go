// ABOUTME: REST handlers for sessions, messages, stats and transcript export/import
// ABOUTME: Posting a user message runs the agent loop and returns the reply

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/jacox/internal/agent"
	"github.com/2389/jacox/internal/conversation"
	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/store"
	"github.com/2389/jacox/internal/transcript"
)

// maxImportBytes caps the size of an imported transcript.
const maxImportBytes = 10 << 20

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateSessionRequest is the body of PATCH /sessions/{id}.
type UpdateSessionRequest struct {
	Name     *string        `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateMessageRequest is the body of POST /sessions/{id}/messages.
type CreateMessageRequest struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Model      string         `json:"model,omitempty"`
	TokenCount int            `json:"token_count,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

var validRoles = map[string]bool{
	string(llm.RoleSystem):    true,
	string(llm.RoleUser):      true,
	string(llm.RoleAssistant): true,
	string(llm.RoleTool):      true,
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	session, err := g.store.CreateSession(r.Context(), req.Name, req.Metadata)
	if err != nil {
		g.logger.Error("failed to create session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := g.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := g.store.Stats(r.Context())
	if err != nil {
		g.logger.Error("failed to compute stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := g.loadSession(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (g *Gateway) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	session, err := g.store.UpdateSession(r.Context(), r.PathValue("id"), store.SessionUpdate{
		Name:     req.Name,
		Metadata: req.Metadata,
	})
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to update session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := g.store.DeleteSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddMessage stores a message. A user message also runs a full
// agent turn and the final assistant entry is returned instead.
func (g *Gateway) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Role = strings.ToLower(req.Role)
	if !validRoles[req.Role] {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", req.Role))
		return
	}

	if req.Role != string(llm.RoleUser) {
		if _, ok := g.loadSession(w, r, sessionID); !ok {
			return
		}
		msg := &store.Message{
			SessionID:  sessionID,
			Role:       req.Role,
			Content:    req.Content,
			Model:      req.Model,
			TokenCount: req.TokenCount,
			Metadata:   req.Metadata,
		}
		if err := g.store.InsertMessage(r.Context(), msg); err != nil {
			g.logger.Error("failed to insert message", "session_id", sessionID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to insert message")
			return
		}
		writeJSON(w, http.StatusCreated, msg)
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	resp, err := g.conversation.Reply(r.Context(), sessionID, req.Content, conversation.ReplyOptions{Model: req.Model})
	if err != nil {
		g.sendRunError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp.Message)
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit, offset, err := parsePagination(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := g.loadSession(w, r, sessionID); !ok {
		return
	}

	messages, err := g.store.ListMessages(r.Context(), sessionID, limit, offset)
	if err != nil {
		g.logger.Error("failed to list messages", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleExportSession returns the flat text transcript, or an HTML page
// when format=html.
func (g *Gateway) handleExportSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, ok := g.loadSession(w, r, sessionID)
	if !ok {
		return
	}

	messages, err := g.store.ListMessages(r.Context(), sessionID, store.MaxLimit, 0)
	if err != nil {
		g.logger.Error("failed to load messages for export", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to export session")
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "text", "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"session_%s.txt\"", sessionID))
		_, _ = io.WriteString(w, transcript.Export(session, messages))
	case "html":
		page, err := transcript.RenderHTML(session, messages)
		if err != nil {
			g.logger.Error("failed to render export", "session_id", sessionID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to export session")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	default:
		g.sendJSONError(w, http.StatusBadRequest, "format must be text or html")
	}
}

// handleImportSession creates a session from a flat text transcript.
func (g *Gateway) handleImportSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	session, err := transcript.Restore(r.Context(), g.store, transcript.Import(string(body)))
	if err != nil {
		g.logger.Error("failed to import session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to import session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// loadSession fetches a session, writing 404/500 and returning false on failure.
func (g *Gateway) loadSession(w http.ResponseWriter, r *http.Request, id string) (*store.Session, bool) {
	session, err := g.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		g.logger.Error("failed to load session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return session, true
}

// sendRunError maps a failed turn to an HTTP status.
func (g *Gateway) sendRunError(w http.ResponseWriter, err error) {
	status, message := runErrorStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("turn failed", "error", err)
	}
	g.sendJSONError(w, status, message)
}

func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, agent.ErrLoopExceeded):
		return http.StatusInternalServerError, agent.ErrLoopExceeded.Error()
	case llm.IsRateLimited(err):
		return http.StatusTooManyRequests, "LLM error: " + err.Error()
	case llm.KindOf(err) != "":
		return http.StatusBadGateway, "LLM error: " + err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// parsePagination reads limit and offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, errors.New("invalid limit parameter")
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("invalid offset parameter")
		}
	}
	return limit, offset, nil
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
