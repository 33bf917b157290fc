// ABOUTME: Gateway orchestrator that owns the HTTP server and its collaborators
// ABOUTME: Wires store, provider, tools and conversation service; manages lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/jacox/internal/config"
	"github.com/2389/jacox/internal/conversation"
	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/providers"
	"github.com/2389/jacox/internal/store"
	"github.com/2389/jacox/internal/tools"
)

// shutdownTimeout bounds graceful shutdown once Run's context is cancelled.
const shutdownTimeout = 5 * time.Second

// Gateway serves the REST, OpenAI-compatible and WebSocket surfaces.
type Gateway struct {
	config       *config.Config
	store        store.Store
	provider     llm.Provider
	tools        *tools.Registry
	conversation *conversation.Service
	httpServer   *http.Server
	logger       *slog.Logger

	// conns tracks live WebSocket connections so shutdown can wait for them.
	conns sync.WaitGroup
	// closing is cancelled when shutdown begins, ending WebSocket sessions.
	closing context.Context
	stop    context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// Deps lets callers supply pre-built collaborators (tests, embedding).
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Provider llm.Provider
	Tools    *tools.Registry
	Logger   *slog.Logger
}

// New builds a Gateway from configuration: it opens the SQLite store,
// constructs the configured provider and registers the built-in tools.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	provider, err := providers.New(cfg.LLM, &http.Client{})
	if err != nil {
		s.Close()
		return nil, err
	}

	registry, err := tools.NewBuiltinRegistry(cfg.Tools, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	logger.Info("gateway configured",
		"provider", provider.Name(),
		"database", cfg.Database.Path,
		"tools", registry.Len(),
	)

	return NewWithDeps(Deps{
		Config:   cfg,
		Store:    s,
		Provider: provider,
		Tools:    registry,
		Logger:   logger,
	}), nil
}

// NewWithDeps builds a Gateway around existing collaborators.
func NewWithDeps(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	registry := deps.Tools
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}

	closing, stop := context.WithCancel(context.Background())
	gw := &Gateway{
		config:   cfg,
		store:    deps.Store,
		provider: deps.Provider,
		tools:    registry,
		conversation: conversation.New(conversation.Config{
			Store:    deps.Store,
			Provider: deps.Provider,
			Tools:    registry,
			Chat:     cfg.Chat,
			Logger:   logger,
		}),
		logger:  logger.With("component", "gateway"),
		closing: closing,
		stop:    stop,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return gw
}

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)

	mux.HandleFunc("POST /sessions", g.handleCreateSession)
	mux.HandleFunc("GET /sessions", g.handleListSessions)
	mux.HandleFunc("GET /sessions/stats", g.handleStats)
	mux.HandleFunc("POST /sessions/import", g.handleImportSession)
	mux.HandleFunc("GET /sessions/{id}", g.handleGetSession)
	mux.HandleFunc("PATCH /sessions/{id}", g.handleUpdateSession)
	mux.HandleFunc("DELETE /sessions/{id}", g.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/messages", g.handleAddMessage)
	mux.HandleFunc("GET /sessions/{id}/messages", g.handleListMessages)
	mux.HandleFunc("GET /sessions/{id}/export", g.handleExportSession)

	mux.HandleFunc("POST /v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", g.handleListModels)

	mux.HandleFunc("GET /ws/chat/{session_id}", g.handleWebSocket)

	return g.logRequests(mux)
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		// The parent context is already done; shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, ends WebSocket sessions and releases
// the store and tools. It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.stop()
		g.conns.Wait()

		errs = appendCloseError(errs, "tools close", g.tools.Close())
		if g.store != nil {
			errs = appendCloseError(errs, "store close", g.store.Close())
		}
		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// logRequests logs each request at debug level.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleHealth reports liveness and the active provider.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": g.provider.Name(),
		"models":   g.provider.Models(),
	})
}
