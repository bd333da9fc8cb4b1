package llm

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config holds the text provider configuration.
type Config struct {
	// Provider is "gemini", "openai", "anthropic", "openrouter" or "mock".
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// Concurrency caps in-flight text requests across all callers.
	// Zero disables the cap.
	Concurrency int

	// Timeout bounds a single Generate call, retries included.
	Timeout time.Duration
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // OpenAI-compatible endpoints other than api.openai.com
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenRouterConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetry is the backoff used for text calls.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 1 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
	}
}

// backend describes how one provider is configured from the environment.
type backend struct {
	name  string
	keys  []string // key variables, first match wins
	model string
	set   func(c *Config, key, model string)
}

// backends is in discovery order: with no provider named, the first one
// whose key is present is used.
var backends = []backend{
	{
		name:  "gemini",
		keys:  []string{"APGEN_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		model: DefaultGeminiModel,
		set:   func(c *Config, k, m string) { c.Gemini = GeminiConfig{APIKey: k, Model: m} },
	},
	{
		name:  "openai",
		keys:  []string{"APGEN_OPENAI_API_KEY", "OPENAI_API_KEY"},
		model: "gpt-4o-mini",
		set: func(c *Config, k, m string) {
			c.OpenAI = OpenAIConfig{APIKey: k, Model: m, BaseURL: os.Getenv("APGEN_OPENAI_BASE_URL")}
		},
	},
	{
		name:  "anthropic",
		keys:  []string{"APGEN_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
		model: "claude-haiku",
		set:   func(c *Config, k, m string) { c.Anthropic = AnthropicConfig{APIKey: k, Model: m} },
	},
	{
		name:  "openrouter",
		keys:  []string{"APGEN_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"},
		model: "google/gemini-2.5-flash",
		set:   func(c *Config, k, m string) { c.OpenRouter = OpenRouterConfig{APIKey: k, Model: m} },
	},
}

// ErrNoProvider is returned by Resolve when no provider is named and no
// API key is found.
var ErrNoProvider = errors.New("no LLM API key found: set GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY or OPENROUTER_API_KEY")

// Resolve builds a Config from the environment. An empty name picks the
// first backend with a key set; an empty model keeps the backend default.
// lookup is os.Getenv outside tests. Retry, Concurrency and Timeout are
// left for the caller.
func Resolve(name, model string, lookup func(string) string) (Config, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	if name == "mock" {
		return Config{Provider: "mock"}, nil
	}

	for _, b := range backends {
		if name != "" && b.name != name {
			continue
		}
		key := firstSet(lookup, b.keys)
		if name == "" && key == "" {
			continue
		}
		m := model
		if m == "" {
			m = b.model
		}
		cfg := Config{Provider: b.name, Retry: DefaultRetry()}
		b.set(&cfg, key, m)
		return cfg, cfg.Validate()
	}

	if name != "" {
		return Config{}, fmt.Errorf("unknown LLM provider: %q", name)
	}
	return Config{}, ErrNoProvider
}

func firstSet(lookup func(string) string, keys []string) string {
	for _, k := range keys {
		if v := lookup(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks that the selected provider has its API key set.
func (c Config) Validate() error {
	var key string
	switch c.Provider {
	case "anthropic":
		key = c.Anthropic.APIKey
	case "openai":
		key = c.OpenAI.APIKey
	case "gemini":
		key = c.Gemini.APIKey
	case "openrouter":
		key = c.OpenRouter.APIKey
	case "mock":
		return nil
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	if key == "" {
		for _, b := range backends {
			if b.name == c.Provider {
				return fmt.Errorf("%s is required for the %s provider", b.keys[0], c.Provider)
			}
		}
	}
	return nil
}
