// ABOUTME: Provider is the capability surface every model backend satisfies
// ABOUTME: Also holds the transcript helpers for system prompt placement

package llm

import (
	"context"
	"strings"
)

// Provider is a chat model backend. Implementations are safe for concurrent use.
type Provider interface {
	// Name is the stable backend identifier recorded alongside persisted replies.
	Name() string

	// Complete runs one request/response exchange.
	Complete(ctx context.Context, transcript []Message, opts Options) (*Result, error)

	// CompleteStreaming sends text fragments into sink as they arrive. It
	// blocks while sink is full and returns when the vendor stream ends.
	// It never closes sink.
	CompleteStreaming(ctx context.Context, transcript []Message, opts Options, sink chan<- string) error

	// Models lists the model ids this backend advertises.
	Models() []string
}

// Emit delivers token to sink, waiting for room rather than dropping it.
func Emit(ctx context.Context, sink chan<- string, token string) error {
	select {
	case sink <- token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasSystem reports whether the transcript already contains a system message.
func HasSystem(transcript []Message) bool {
	for _, m := range transcript {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}

// WithSystem returns the transcript to send to a vendor that accepts the
// system prompt inline. A system message built from prompt is placed at
// index 0 only when the transcript has none. The input slice is not modified.
func WithSystem(transcript []Message, prompt string) []Message {
	if prompt == "" || HasSystem(transcript) {
		return transcript
	}
	out := make([]Message, 0, len(transcript)+1)
	out = append(out, SystemMessage(prompt))
	return append(out, transcript...)
}

// SplitSystem prepares a transcript for a vendor that takes the system prompt
// as a separate field. System messages are joined in order with newlines,
// the override is appended, and the result is trimmed. The remaining
// messages keep their order.
func SplitSystem(transcript []Message, override string) (string, []Message) {
	var sb strings.Builder
	rest := make([]Message, 0, len(transcript))
	for _, m := range transcript {
		if m.Role == RoleSystem {
			sb.WriteString(m.Content)
			sb.WriteString("\n")
			continue
		}
		rest = append(rest, m)
	}
	sb.WriteString(override)
	return strings.TrimSpace(sb.String()), rest
}
