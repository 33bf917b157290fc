// ABOUTME: Scripted Provider for tests of code that drives a model backend
// ABOUTME: Replays canned results and token streams and records every call

// Package llmtest provides a fake llm.Provider.
package llmtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/2389/jacox/internal/llm"
)

// Fake is a scripted llm.Provider.
//
// Complete returns Results in order, repeating the last one once the script
// runs out. Respond, when set, takes precedence. CompleteStreaming sends
// Tokens (sleeping TokenDelay before each) and then returns StreamErr.
type Fake struct {
	ProviderName string
	Results      []*llm.Result
	Err          error
	Respond      func(call int, transcript []llm.Message, opts llm.Options) (*llm.Result, error)

	Tokens     []string
	TokenDelay time.Duration
	StreamErr  error

	mu          sync.Mutex
	transcripts [][]llm.Message
	options     []llm.Options
}

var _ llm.Provider = (*Fake)(nil)

// Name implements llm.Provider.
func (f *Fake) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

// Models implements llm.Provider.
func (f *Fake) Models() []string {
	return []string{"fake-model"}
}

// Complete implements llm.Provider.
func (f *Fake) Complete(ctx context.Context, transcript []llm.Message, opts llm.Options) (*llm.Result, error) {
	call := f.record(transcript, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Respond != nil {
		return f.Respond(call, transcript, opts)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Results) == 0 {
		return &llm.Result{Model: "fake-model"}, nil
	}
	r := *f.Results[min(call, len(f.Results)-1)]
	return &r, nil
}

// CompleteStreaming implements llm.Provider.
func (f *Fake) CompleteStreaming(ctx context.Context, transcript []llm.Message, opts llm.Options, sink chan<- string) error {
	f.record(transcript, opts)
	for _, tok := range f.Tokens {
		if f.TokenDelay > 0 {
			select {
			case <-time.After(f.TokenDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := llm.Emit(ctx, sink, tok); err != nil {
			return err
		}
	}
	return f.StreamErr
}

func (f *Fake) record(transcript []llm.Message, opts llm.Options) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, slices.Clone(transcript))
	f.options = append(f.options, opts)
	return len(f.transcripts) - 1
}

// Calls reports how many completions (one-shot or streaming) were requested.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transcripts)
}

// Transcript returns a copy of the transcript sent on call i.
func (f *Fake) Transcript(i int) []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.transcripts[i])
}

// Options returns the options sent on call i.
func (f *Fake) Options(i int) llm.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[i]
}
