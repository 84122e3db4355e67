package memory

import (
	"context"
	"log/slog"

	"github.com/flemzord/chatpilot/internal/provider"
)

// DefaultMaxFacts bounds recall when no limit is configured.
const DefaultMaxFacts = 5

// Injector retrieves relevant facts for a conversation and shapes them
// into request turns. Recall failures degrade to no memory rather than
// failing the exchange.
type Injector struct {
	store    Store
	maxFacts int
	logger   *slog.Logger
}

// NewInjector creates an Injector over store. A nil store disables
// recall entirely. maxFacts <= 0 uses DefaultMaxFacts. logger may be
// nil.
func NewInjector(store Store, maxFacts int, logger *slog.Logger) *Injector {
	if maxFacts <= 0 {
		maxFacts = DefaultMaxFacts
	}
	return &Injector{store: store, maxFacts: maxFacts, logger: logger}
}

// Recall returns the matching facts as system turns, oldest relevance
// rank last so budget trimming keeps the best matches. Returns nil when
// the store is absent, recall fails, or nothing matches.
func (i *Injector) Recall(ctx context.Context, conversationID, query string) []provider.Message {
	if i == nil || i.store == nil {
		return nil
	}

	facts, err := i.store.Search(ctx, conversationID, query, i.maxFacts)
	if err != nil {
		if i.logger != nil {
			i.logger.Warn("memory recall failed", "conversation", conversationID, "error", err)
		}
		return nil
	}
	if len(facts) == 0 {
		return nil
	}

	// Best matches go last: Trim keeps the suffix when the budget is
	// tight.
	out := make([]provider.Message, 0, len(facts))
	for j := len(facts) - 1; j >= 0; j-- {
		out = append(out, provider.Message{
			Role:    provider.RoleSystem,
			Content: facts[j].Content,
		})
	}
	return out
}
