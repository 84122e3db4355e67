// Package memory defines long-term recall for conversations: facts
// persisted beyond the rolling history window and injected back into
// requests as extra context.
package memory

import (
	"context"
	"time"
)

// Fact is a piece of long-term knowledge extracted from a conversation.
type Fact struct {
	ID             string
	ConversationID string
	Content        string
	Tags           []string
	CreatedAt      time.Time
}

// Store manages long-term memory facts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Index stores a new fact, replacing any fact with the same ID.
	Index(ctx context.Context, fact Fact) error

	// Search retrieves up to topK facts for the conversation matching
	// the query by content relevance, newest first on ties.
	Search(ctx context.Context, conversationID, query string, topK int) ([]Fact, error)

	// Delete removes a fact by ID.
	Delete(ctx context.Context, id string) error

	// Len returns the total number of stored facts.
	Len() int
}
