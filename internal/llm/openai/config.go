// Package openai adapts github.com/sashabaranov/go-openai to the
// internal/llm.Client contract, grounded on
// Jint8888-Pocket-Omega/internal/llm/openai/config.go and client.go.
package openai

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the connection settings for an OpenAI-compatible
// chat-completions endpoint. Per-call model/temperature/max_tokens come
// from the agent configuration (internal/contextasm.Assembled), not
// from here — this Config only covers the transport.
type Config struct {
	APIKey      string
	BaseURL     string
	HTTPTimeout time.Duration // per spec.md §5, default 60s
	MaxRetries  int           // retries after the first attempt; default 2 (3 attempts in all)
	RetryBase   time.Duration // default 1s
}

// NewConfigFromEnv builds a Config from LLM_API_KEY, LLM_BASE_URL,
// LLM_HTTP_TIMEOUT_SECONDS, LLM_MAX_RETRIES.
func NewConfigFromEnv() (*Config, error) {
	cfg := &Config{
		APIKey:      os.Getenv("LLM_API_KEY"),
		BaseURL:     getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		HTTPTimeout: time.Duration(getEnvIntOrDefault("LLM_HTTP_TIMEOUT_SECONDS", 60)) * time.Second,
		MaxRetries:  getEnvIntOrDefault("LLM_MAX_RETRIES", 2),
		RetryBase:   time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", c.MaxRetries)
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}
