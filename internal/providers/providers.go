// ABOUTME: Builds the configured model backend at startup
// ABOUTME: Maps llm.provider to one of the protocol adapters

// Package providers selects and constructs the llm.Provider named in configuration.
package providers

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/jacox/internal/config"
	"github.com/2389/jacox/internal/llm"
	"github.com/2389/jacox/internal/llm/anthropic"
	"github.com/2389/jacox/internal/llm/ollama"
	"github.com/2389/jacox/internal/llm/openai"
)

// ErrUnknownProvider indicates llm.provider names no known backend.
var ErrUnknownProvider = errors.New("unknown provider")

// Names lists the accepted llm.provider values.
func Names() []string {
	return []string{config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama}
}

// New constructs the backend selected by cfg.Provider. A nil client uses
// http.DefaultClient.
func New(cfg config.LLMConfig, client *http.Client) (llm.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch name {
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, cfg.OpenAI.DefaultModel, client), nil
	case config.ProviderAnthropic:
		return anthropic.New(cfg.Anthropic.APIKey, cfg.Anthropic.APIBase, cfg.Anthropic.DefaultModel, client), nil
	case config.ProviderOllama:
		return ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.DefaultModel, client), nil
	}
	return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownProvider, cfg.Provider, strings.Join(Names(), ", "))
}

// Known reports whether name is an accepted provider.
func Known(name string) bool {
	return slices.Contains(Names(), strings.ToLower(strings.TrimSpace(name)))
}
