// Package provider defines the interface for communicating with a
// chat-completion backend and a retrying transport with exponential
// backoff and partial-stream commit semantics.
package provider

import "context"

// Provider is the interface for one exchange with a completion backend.
// Implementations are stateless across calls: all conversation state is
// the request's message list. Concrete implementations live in separate
// packages (e.g. provider.openai_compatible) and typically also implement
// core.Module for lifecycle management.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends a completion request and returns a channel of chunks.
	// Initial connection errors are returned directly. Mid-stream errors
	// are delivered via StreamChunk.Err. The channel is closed when the
	// stream ends.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ContextWindowSize returns the maximum context window in tokens.
	// Zero means unknown; callers fall back to turn-count bounding.
	ContextWindowSize() int

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// HealthChecker is an optional interface that providers may implement to
// support an availability probe before the pipeline starts accepting work.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
