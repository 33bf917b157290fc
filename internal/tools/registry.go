// ABOUTME: Thread-safe registry of in-process tools offered to the model.
// ABOUTME: Rejects duplicate names and turns unknown-tool calls into diagnostic text.

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/2389/jacox/internal/llm"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// Tool is a function the model can invoke by name.
type Tool interface {
	Definition() llm.ToolDefinition
	// Call runs the tool. Problems are described in the returned text.
	Call(ctx context.Context, arguments string) string
}

// Registry holds tools in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []Tool
	byName map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Returns ErrToolCollision if the name is taken.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: tool '%s' already registered", ErrToolCollision, name)
	}
	r.byName[name] = t
	r.order = append(r.order, t)
	r.logger.Debug("tool registered", "tool", name)
	return nil
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, t := range r.order {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke runs the named tool with raw JSON arguments and returns its text.
func (r *Registry) Invoke(ctx context.Context, name, arguments string) string {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}

	r.logger.Info("invoking tool", "tool", name)
	return t.Call(ctx, arguments)
}

// Close releases resources held by tools that implement io.Closer.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, t := range r.order {
		if c, ok := t.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
