// ABOUTME: WebSocket chat endpoint: one supervised run per connection
// ABOUTME: Reads {type, content, stream} frames and writes chunk/done/error/status frames

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/jacox/internal/conversation"
	"github.com/2389/jacox/internal/supervisor"
)

// wsWriteTimeout bounds a single frame write to a slow client.
const wsWriteTimeout = 10 * time.Second

// Inbound frame types.
const (
	frameMessage = "message"
	frameCancel  = "cancel"
)

// wsInbound is a client frame. Stream defaults to true when omitted.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Stream  *bool  `json:"stream,omitempty"`
}

func (m wsInbound) streaming() bool {
	return m.Stream == nil || *m.Stream
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if _, ok := g.loadSession(w, r, sessionID); !ok {
		return
	}
	if g.closing.Err() != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	g.conns.Add(1)
	defer g.conns.Done()

	// Runs end with the connection or at shutdown. Reads use the request
	// context; shutdown unblocks them by closing the connection.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopOnShutdown := context.AfterFunc(g.closing, func() {
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stopOnShutdown()

	logger := g.logger.With("session_id", sessionID)
	logger.Info("websocket connected")

	sup := supervisor.New(func(ev supervisor.Event) error {
		wctx, done := context.WithTimeout(ctx, wsWriteTimeout)
		defer done()
		return wsjson.Write(wctx, conn, ev)
	}, logger)

	g.readFrames(r.Context(), ctx, conn, sup, sessionID)

	sup.Close()
	if stopOnShutdown() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	logger.Info("websocket closed")
}

// readFrames dispatches client frames until the connection ends.
func (g *Gateway) readFrames(readCtx, runCtx context.Context, conn *websocket.Conn, sup *supervisor.Supervisor, sessionID string) {
	sendError := func(msg string) {
		_ = sup.Send(supervisor.Event{Type: supervisor.EventError, Content: msg})
	}

	for {
		typ, data, err := conn.Read(readCtx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if runCtx.Err() == nil {
					g.logger.Debug("websocket read ended", "session_id", sessionID, "error", err)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			sendError("binary frames are not supported")
			continue
		}

		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			sendError("invalid JSON frame")
			continue
		}

		switch in.Type {
		case frameMessage:
			if strings.TrimSpace(in.Content) == "" {
				sendError("content is required")
				continue
			}
			run := g.replyRun(sessionID, in.Content)
			if in.streaming() {
				run = g.streamRun(sessionID, in.Content)
			}
			sup.Start(runCtx, run)
		case frameCancel:
			if !sup.Cancel() {
				g.logger.Debug("cancel with no active run", "session_id", sessionID)
			}
		default:
			sendError("unknown message type: " + in.Type)
		}
	}
}

// streamRun relays fragments as chunk frames, then done. An aborted run
// writes nothing further.
func (g *Gateway) streamRun(sessionID, content string) supervisor.RunFunc {
	return func(ctx context.Context, emit supervisor.Emitter) {
		_, err := g.conversation.Stream(ctx, sessionID, content, func(tok string) error {
			return emit(supervisor.Event{Type: supervisor.EventChunk, Content: tok})
		})
		g.finishRun(ctx, emit, err)
	}
}

// replyRun runs the agent loop and delivers the final answer as one chunk.
func (g *Gateway) replyRun(sessionID, content string) supervisor.RunFunc {
	return func(ctx context.Context, emit supervisor.Emitter) {
		resp, err := g.conversation.Reply(ctx, sessionID, content, conversation.ReplyOptions{})
		if err == nil && resp.Content != "" {
			if emitErr := emit(supervisor.Event{Type: supervisor.EventChunk, Content: resp.Content}); emitErr != nil {
				return
			}
		}
		g.finishRun(ctx, emit, err)
	}
}

func (g *Gateway) finishRun(ctx context.Context, emit supervisor.Emitter, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		_, message := runErrorStatus(err)
		g.logger.Error("websocket run failed", "error", err)
		if emit(supervisor.Event{Type: supervisor.EventError, Content: message}) != nil {
			return
		}
	}
	_ = emit(supervisor.Event{Type: supervisor.EventDone})
}
