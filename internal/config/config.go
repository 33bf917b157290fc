// ABOUTME: Configuration loading and parsing for jacox
// ABOUTME: Supports YAML or TOML files with environment variable expansion and overrides

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported llm.provider values.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config represents the complete jacox configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	LLM      LLMConfig      `yaml:"llm" toml:"llm"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat"`
	Tools    ToolsConfig    `yaml:"tools" toml:"tools"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`

	ReadHeaderTimeout    time.Duration `yaml:"-" toml:"-"`
	ReadHeaderTimeoutRaw string        `yaml:"read_header_timeout" toml:"read_header_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LLMConfig selects the model backend and holds per-vendor settings
type LLMConfig struct {
	Provider  string          `yaml:"provider" toml:"provider"`
	OpenAI    OpenAIConfig    `yaml:"openai" toml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" toml:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama" toml:"ollama"`
}

// OpenAIConfig holds OpenAI-compatible endpoint settings
type OpenAIConfig struct {
	APIBase      string `yaml:"api_base" toml:"api_base"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	DefaultModel string `yaml:"default_model" toml:"default_model"`
}

// AnthropicConfig holds Anthropic endpoint settings
type AnthropicConfig struct {
	APIBase      string `yaml:"api_base" toml:"api_base"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	DefaultModel string `yaml:"default_model" toml:"default_model"`
}

// OllamaConfig holds local Ollama server settings
type OllamaConfig struct {
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	DefaultModel string `yaml:"default_model" toml:"default_model"`
}

// ChatConfig holds conversation defaults
type ChatConfig struct {
	MaxHistoryMessages int    `yaml:"max_history_messages" toml:"max_history_messages"`
	SystemPrompt       string `yaml:"system_prompt" toml:"system_prompt"`
}

// ToolsConfig holds built-in tool settings
type ToolsConfig struct {
	Search SearchConfig `yaml:"search" toml:"search"`
}

// SearchConfig holds internet_search settings
type SearchConfig struct {
	Disabled   bool `yaml:"disabled" toml:"disabled"`
	MaxResults int  `yaml:"max_results" toml:"max_results"`
	CacheSize  int  `yaml:"cache_size" toml:"cache_size"`

	CacheTTL    time.Duration `yaml:"-" toml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl" toml:"cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "jacox.db"},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			OpenAI: OpenAIConfig{
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o",
			},
			Anthropic: AnthropicConfig{
				APIBase:      "https://api.anthropic.com",
				DefaultModel: "claude-3-5-sonnet-20241022",
			},
			Ollama: OllamaConfig{
				BaseURL:      "http://localhost:11434",
				DefaultModel: "llama3.2",
			},
		},
		Chat: ChatConfig{
			MaxHistoryMessages: 50,
			SystemPrompt:       "You are a helpful assistant.",
		},
		Tools: ToolsConfig{
			Search: SearchConfig{
				MaxResults: 3,
				CacheSize:  256,
				CacheTTL:   10 * time.Minute,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A missing file yields the defaults. Environment variables in the format
// ${VAR_NAME} are expanded before parsing, and JACOX_* variables override
// parsed values. Files ending in .toml are parsed as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		expandedData := expandEnvVars(string(data))
		if err := decode(path, expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets JACOX_* environment variables win over file values
func applyEnvOverrides(cfg *Config) error {
	strOverrides := map[string]*string{
		"JACOX_SERVER_HOST":       &cfg.Server.Host,
		"JACOX_DATABASE_PATH":     &cfg.Database.Path,
		"JACOX_LLM_PROVIDER":      &cfg.LLM.Provider,
		"JACOX_OPENAI_API_KEY":    &cfg.LLM.OpenAI.APIKey,
		"JACOX_ANTHROPIC_API_KEY": &cfg.LLM.Anthropic.APIKey,
		"JACOX_OLLAMA_BASE_URL":   &cfg.LLM.Ollama.BaseURL,
		"JACOX_LOG_LEVEL":         &cfg.Logging.Level,
	}
	for name, target := range strOverrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*target = v
		}
	}

	if v := os.Getenv("JACOX_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JACOX_SERVER_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("llm.provider %q is not one of openai, anthropic, ollama", c.LLM.Provider)
	}

	if c.Chat.MaxHistoryMessages < 0 {
		return fmt.Errorf("chat.max_history_messages must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		cfg.Server.ReadHeaderTimeout, err = time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
	}

	if cfg.Tools.Search.CacheTTLRaw != "" {
		cfg.Tools.Search.CacheTTL, err = time.ParseDuration(cfg.Tools.Search.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Tools.Search.CacheTTLRaw, err)
		}
	}

	return nil
}
