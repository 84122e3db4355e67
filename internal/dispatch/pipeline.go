package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/flemzord/chatpilot/internal/budget"
	"github.com/flemzord/chatpilot/internal/gate"
	"github.com/flemzord/chatpilot/internal/history"
	"github.com/flemzord/chatpilot/internal/memory"
	"github.com/flemzord/chatpilot/internal/provider"
)

// ErrNoReply indicates the exchange produced no usable assistant text.
// The conversation receives silence; nothing is appended to history.
var ErrNoReply = errors.New("dispatch: exchange produced no reply")

// Completer is the completion transport the pipeline calls. Satisfied
// by provider.Transport.
type Completer interface {
	Send(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	Stream(ctx context.Context, req provider.CompletionRequest) <-chan provider.StreamChunk
}

// PipelineConfig groups the pipeline's dependencies.
type PipelineConfig struct {
	Registry  *history.Registry
	Gate      *gate.Gate
	Limiter   *Limiter
	Transport Completer

	// Memory provides long-term recall. Nil disables injection.
	Memory *memory.Injector

	// Plan carves the context window across system prompt, memory, and
	// history. A disabled plan leaves history bounded by turn count only.
	Plan budget.Plan

	// SystemPrompt is prepended to every request when non-empty.
	SystemPrompt string

	// Streaming selects the transport mode per exchange.
	Streaming bool

	// MaxTokens caps the completion length. Zero lets the backend decide.
	MaxTokens int

	Logger *slog.Logger

	// OnResult, if non-nil, observes every finished exchange. Used by
	// the gateway to feed metrics.
	OnResult func(conversationID string, err error, elapsed time.Duration)
}

// Pipeline executes one exchange per inbound turn: admission, the
// per-conversation lock, context assembly, the completion call, and the
// history commit.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
}

// NewPipeline creates a Pipeline with the given configuration.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// Handle runs one exchange and returns the assistant's reply text.
//
// Exchanges for the same conversation serialize on the gate; exchanges
// across conversations run in parallel up to the limiter's capacity. On
// total failure nothing is appended and the error propagates; the
// caller replies with silence.
func (p *Pipeline) Handle(ctx context.Context, conversationID, userText string) (string, error) {
	start := time.Now()

	if err := p.cfg.Limiter.Acquire(ctx); err != nil {
		return "", err
	}
	defer p.cfg.Limiter.Release()

	var (
		reply string
		err   error
	)
	p.cfg.Gate.WithLock(conversationID, func() {
		reply, err = p.exchange(ctx, conversationID, userText)
	})

	// Reclaim lock entries for conversations the registry evicted.
	p.cfg.Gate.Cleanup(p.cfg.Registry.ActiveIDs())

	if p.cfg.OnResult != nil {
		p.cfg.OnResult(conversationID, err, time.Since(start))
	}
	return reply, err
}

// exchange runs under the conversation lock.
func (p *Pipeline) exchange(ctx context.Context, conversationID, userText string) (string, error) {
	p.cfg.Registry.GetOrCreate(conversationID)
	hist := p.cfg.Registry.Snapshot(conversationID)

	var mem []provider.Message
	if p.cfg.Memory != nil {
		mem = p.cfg.Memory.Recall(ctx, conversationID, userText)
	}

	mem, hist = p.cfg.Plan.Apply(p.cfg.SystemPrompt, userText, mem, hist)

	req := provider.CompletionRequest{
		Messages:  assemble(p.cfg.SystemPrompt, mem, hist, userText),
		MaxTokens: p.cfg.MaxTokens,
	}

	var (
		reply string
		err   error
	)
	if p.cfg.Streaming {
		reply, err = p.collectStream(ctx, req)
	} else {
		var resp provider.CompletionResponse
		resp, err = p.cfg.Transport.Send(ctx, req)
		reply = resp.Content
	}
	if err != nil {
		p.logger.Error("exchange failed",
			"conversation", conversationID, "error", err)
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", ErrNoReply
	}

	p.cfg.Registry.Append(conversationID,
		provider.Message{Role: provider.RoleUser, Content: userText},
		provider.Message{Role: provider.RoleAssistant, Content: reply},
	)

	p.logger.Info("exchange completed",
		"conversation", conversationID,
		"history_turns", len(hist),
		"memory_turns", len(mem),
		"reply_chars", len(reply),
	)
	return reply, nil
}

// collectStream drains a streamed completion. Partial output followed
// by a mid-stream failure still counts as success: the fragments the
// user's model produced are committed rather than discarded.
func (p *Pipeline) collectStream(ctx context.Context, req provider.CompletionRequest) (string, error) {
	var b strings.Builder
	for chunk := range p.cfg.Transport.Stream(ctx, req) {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		b.WriteString(chunk.Content)
	}
	if b.Len() == 0 {
		return "", ErrNoReply
	}
	return b.String(), nil
}

// assemble builds the request message list: system prompt, memory with
// its header marker, trimmed history, then the new user turn.
func assemble(systemPrompt string, mem, hist []provider.Message, userText string) []provider.Message {
	msgs := make([]provider.Message, 0, len(mem)+len(hist)+3)
	if systemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	if len(mem) > 0 {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: budget.MemoryHeader})
		msgs = append(msgs, mem...)
	}
	msgs = append(msgs, hist...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: userText})
	return msgs
}
