// Package coalesce merges rapid-fire inbound messages from the same
// conversation into a single logical turn. A burst of short messages in
// quick succession produces one pipeline execution instead of several.
package coalesce

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/chatpilot/pkg/message"
)

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool {
	return false
}

func (nopHandler) Handle(context.Context, slog.Record) error {
	return nil
}

func (nopHandler) WithAttrs([]slog.Attr) slog.Handler {
	return nopHandler{}
}

func (nopHandler) WithGroup(string) slog.Handler {
	return nopHandler{}
}

// FlushFunc receives the merged event once a burst settles. The event is
// the last one of the burst with Text replaced by the newline-joined
// accumulated texts.
type FlushFunc func(ev message.InboundEvent)

// Config tunes the coalescer.
type Config struct {
	// MergeWindow is the quiet period after each message before the
	// burst is flushed. Zero or negative disables coalescing entirely.
	MergeWindow time.Duration

	// MaxWait caps how long a burst may accumulate, measured from its
	// first message. Under continuous chatter the flush still happens
	// at firstSeenAt+MaxWait. Zero means no cap.
	MaxWait time.Duration

	// Logger receives debug output. Discarded when nil.
	Logger *slog.Logger
}

// pendingMerge is the per-conversation accumulation state. The gen
// counter guards against a stale timer firing after a restart: only the
// timer holding the current generation may flush.
type pendingMerge struct {
	texts       []string
	firstSeenAt time.Time
	last        message.InboundEvent
	timer       *time.Timer
	gen         uint64
}

// Coalescer buffers coalescible inbound events per conversation and
// flushes each burst as one merged event. Safe for concurrent use.
type Coalescer struct {
	cfg    Config
	flush  FlushFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingMerge

	now func() time.Time
}

// New creates a Coalescer delivering merged events to flush.
func New(cfg Config, flush FlushFunc) *Coalescer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(nopHandler{})
	}
	return &Coalescer{
		cfg:     cfg,
		flush:   flush,
		logger:  logger,
		pending: make(map[string]*pendingMerge),
		now:     time.Now,
	}
}

// Push routes one inbound event. Non-coalescible events bypass the
// buffer: any pending burst for the conversation is flushed first so
// turn order is preserved, then the event is delivered on its own.
func (c *Coalescer) Push(ev message.InboundEvent) {
	if c.cfg.MergeWindow <= 0 {
		c.flush(ev)
		return
	}

	id := ev.ConversationID()

	if !ev.Coalescible {
		c.flushConversation(id)
		c.flush(ev)
		return
	}

	c.mu.Lock()

	p, ok := c.pending[id]
	if !ok {
		p = &pendingMerge{firstSeenAt: c.now()}
		c.pending[id] = p
	}
	p.texts = append(p.texts, ev.Text)
	p.last = ev

	delay := c.cfg.MergeWindow
	if c.cfg.MaxWait > 0 {
		deadline := p.firstSeenAt.Add(c.cfg.MaxWait)
		if remaining := deadline.Sub(c.now()); remaining < delay {
			delay = remaining
			if delay < 0 {
				delay = 0
			}
		}
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(delay, func() {
		c.fire(id, gen)
	})

	buffered := len(p.texts)
	c.mu.Unlock()

	c.logger.Debug("coalescer buffering",
		"conversation", id, "buffered", buffered, "delay_ms", delay.Milliseconds())
}

// fire is the timer callback. A stale generation means the timer was
// restarted or the burst already flushed; firing is then a no-op.
func (c *Coalescer) fire(id string, gen uint64) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || p.gen != gen {
		c.mu.Unlock()
		return
	}
	ev, count := takeLocked(c.pending, id, p)
	c.mu.Unlock()

	if count > 1 {
		c.logger.Info("coalescer merged burst", "conversation", id, "count", count)
	}
	c.flush(ev)
}

// flushConversation flushes a pending burst immediately, regardless of
// its timer state.
func (c *Coalescer) flushConversation(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	ev, count := takeLocked(c.pending, id, p)
	c.mu.Unlock()

	if count > 1 {
		c.logger.Info("coalescer merged burst", "conversation", id, "count", count)
	}
	c.flush(ev)
}

// takeLocked removes the burst from the map, stops its timer, and
// builds the merged event. Caller holds c.mu.
func takeLocked(pending map[string]*pendingMerge, id string, p *pendingMerge) (message.InboundEvent, int) {
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(pending, id)

	ev := p.last
	ev.Text = strings.Join(p.texts, "\n")
	return ev, len(p.texts)
}

// Stop flushes every pending burst. Called on shutdown so buffered
// messages are not lost.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.flushConversation(id)
	}
}
