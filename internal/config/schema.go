// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for chatpilot.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Assistant holds the conversational pipeline settings shared by
	// every channel.
	Assistant AssistantConfig `yaml:"assistant"`

	// Gateway configures the control dashboard. Nil disables it.
	Gateway *yaml.Node `yaml:"gateway,omitempty"`

	// Telemetry configures OpenTelemetry tracing. Nil disables it.
	Telemetry *yaml.Node `yaml:"telemetry,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "channel.wsbridge").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// AssistantConfig holds the request pipeline settings.
type AssistantConfig struct {
	// SystemPrompt is prepended to every completion request.
	SystemPrompt string `yaml:"system_prompt"`

	// ContextRounds is the number of user/assistant exchanges kept per
	// conversation.
	ContextRounds int `yaml:"context_rounds"`

	// MaxConversations caps the number of live conversations.
	MaxConversations int `yaml:"max_conversations"`

	// HistoryTTL expires conversations untouched for longer than this.
	HistoryTTL time.Duration `yaml:"history_ttl"`

	// MergeWindow is the debounce quiet period for burst coalescing.
	// Zero disables coalescing.
	MergeWindow time.Duration `yaml:"merge_window"`

	// MergeMaxWait caps how long a burst may accumulate.
	MergeMaxWait time.Duration `yaml:"merge_max_wait"`

	// MaxConcurrency bounds simultaneous in-flight exchanges.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Streaming selects streamed completions when true.
	Streaming bool `yaml:"streaming"`

	// MaxTokens caps completion length. Zero lets the backend decide.
	MaxTokens int `yaml:"max_tokens"`

	// MemoryFacts bounds how many long-term memory facts are injected
	// per request. Zero uses the injector default.
	MemoryFacts int `yaml:"memory_facts"`

	// Retry controls the completion transport's retry policy.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors provider.RetryConfig in YAML form.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Multiplier grows the backoff between attempts.
	Multiplier float64 `yaml:"multiplier"`

	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration `yaml:"call_timeout"`
}
