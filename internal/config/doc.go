// Package config handles configuration loading for jacox.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion, then JACOX_* environment overrides are applied and the result
// is validated. A missing file is not an error: every field has a default.
//
// # Configuration File
//
// Path resolution (in order):
//
//  1. --config flag
//  2. JACOX_CONFIG environment variable
//  3. ./config.yaml
//
// Files ending in .toml are decoded with BurntSushi/toml; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Overrides
//
// These variables replace file values after parsing:
//
//	JACOX_SERVER_HOST, JACOX_SERVER_PORT, JACOX_DATABASE_PATH,
//	JACOX_LLM_PROVIDER, JACOX_OPENAI_API_KEY, JACOX_ANTHROPIC_API_KEY,
//	JACOX_OLLAMA_BASE_URL, JACOX_LOG_LEVEL
//
// # Configuration Sections
//
//	server:
//	  host: "127.0.0.1"
//	  port: 8080
//	  read_header_timeout: "10s"
//
//	database:
//	  path: "jacox.db"
//
//	llm:
//	  provider: "openai"          # openai | anthropic | ollama
//	  openai:
//	    api_base: "https://api.openai.com/v1"
//	    api_key: "${OPENAI_API_KEY}"
//	    default_model: "gpt-4o"
//	  anthropic:
//	    api_base: "https://api.anthropic.com"
//	    api_key: "${ANTHROPIC_API_KEY}"
//	    default_model: "claude-3-5-sonnet-20241022"
//	  ollama:
//	    base_url: "http://localhost:11434"
//	    default_model: "llama3.2"
//
//	chat:
//	  max_history_messages: 50
//	  system_prompt: "Today is {current_date}. You are a helpful assistant."
//
//	tools:
//	  search:
//	    disabled: false
//	    max_results: 3
//	    cache_size: 256
//	    cache_ttl: "10m"
//
//	logging:
//	  level: "info"    # debug | info | warn | error
//	  format: "text"   # text | json
package config
