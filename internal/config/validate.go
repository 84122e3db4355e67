package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/chatpilot/internal/core"
)

// Validate checks the structural validity of a Config. It verifies the
// version field, checks that all referenced module IDs exist in the
// registry, requires at least one channel and one provider module, and
// validates the assistant settings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	var haveChannel, haveProvider bool
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
			continue
		}
		switch {
		case strings.HasPrefix(id, "channel."):
			haveChannel = true
		case strings.HasPrefix(id, "provider."):
			haveProvider = true
		}
	}

	if len(cfg.Modules) > 0 {
		if !haveProvider {
			errs = append(errs, errors.New("config: a provider.* module is required"))
		}
		if !haveChannel {
			errs = append(errs, errors.New("config: a channel.* module is required"))
		}
	}

	errs = append(errs, validateAssistant(&cfg.Assistant)...)

	return errors.Join(errs...)
}

func validateAssistant(a *AssistantConfig) []error {
	var errs []error

	if a.ContextRounds < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.context_rounds must be >= 0, got %d", a.ContextRounds))
	}
	if a.MaxConversations < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.max_conversations must be >= 0, got %d", a.MaxConversations))
	}
	if a.HistoryTTL < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.history_ttl must be >= 0, got %s", a.HistoryTTL))
	}
	if a.MergeWindow < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.merge_window must be >= 0, got %s", a.MergeWindow))
	}
	if a.MergeMaxWait < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.merge_max_wait must be >= 0, got %s", a.MergeMaxWait))
	}
	if a.MergeMaxWait > 0 && a.MergeMaxWait < a.MergeWindow {
		errs = append(errs, fmt.Errorf(
			"config: assistant.merge_max_wait %s is shorter than merge_window %s",
			a.MergeMaxWait, a.MergeWindow,
		))
	}
	if a.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.max_concurrency must be >= 0, got %d", a.MaxConcurrency))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.max_tokens must be >= 0, got %d", a.MaxTokens))
	}
	if a.MemoryFacts < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.memory_facts must be >= 0, got %d", a.MemoryFacts))
	}
	if a.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.retry.max_retries must be >= 0, got %d", a.Retry.MaxRetries))
	}
	if a.Retry.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("config: assistant.retry.multiplier must be >= 0, got %g", a.Retry.Multiplier))
	}

	return errs
}
