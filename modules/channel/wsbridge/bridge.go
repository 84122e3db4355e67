package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/chatpilot/internal/channel"
	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/pkg/message"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Bridge{})
}

// Service names published during Provision.
const (
	// ServiceName resolves to the *Bridge itself.
	ServiceName = "channel.wsbridge"
	// HandlerServiceName resolves to an http.HandlerFunc the gateway
	// mounts as the WebSocket endpoint.
	HandlerServiceName = "channel.wsbridge.handler"
)

// ErrNoClient is returned by Send when no connected client adapter can
// deliver a reply for the target conversation.
var ErrNoClient = errors.New("wsbridge: no client connected for conversation")

// Compile-time interface guards.
var (
	_ channel.Channel   = (*Bridge)(nil)
	_ core.Configurable = (*Bridge)(nil)
	_ core.Provisioner  = (*Bridge)(nil)
	_ core.Validator    = (*Bridge)(nil)
	_ core.Starter      = (*Bridge)(nil)
	_ core.Stopper      = (*Bridge)(nil)
)

// Bridge implements the WebSocket bridge channel.
type Bridge struct {
	config    Config
	logger    *slog.Logger
	allowList *channel.AllowList
	tokens    map[string]struct{}
	store     *sessionStore
	inbox     func(message.InboundEvent) error
}

// ModuleInfo implements core.Module.
func (b *Bridge) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "channel.wsbridge",
		New: func() core.Module { return &Bridge{} },
	}
}

// Configure implements core.Configurable.
func (b *Bridge) Configure(node *yaml.Node) error {
	if err := node.Decode(&b.config); err != nil {
		return fmt.Errorf("wsbridge: decode config: %w", err)
	}
	b.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (b *Bridge) Provision(ctx *core.AppContext) error {
	b.logger = ctx.Logger
	b.store = newSessionStore()
	b.allowList = channel.NewAllowList(b.config.AllowUsers, b.config.AllowGroups)

	b.tokens = make(map[string]struct{}, len(b.config.Tokens))
	for _, t := range b.config.Tokens {
		b.tokens[t] = struct{}{}
	}

	ctx.RegisterService(ServiceName, b)
	ctx.RegisterService(HandlerServiceName, http.HandlerFunc(b.handleWebSocket))
	return nil
}

// Validate implements core.Validator.
func (b *Bridge) Validate() error {
	return b.config.validate()
}

// Start implements core.Starter.
func (b *Bridge) Start() error {
	if b.inbox == nil {
		return errors.New("wsbridge: inbox not set, call SetInbox before Start")
	}
	b.logger.Info("wsbridge channel started",
		"max_clients", b.config.MaxClients,
		"reply_delay", b.config.ReplyDelay.Enabled(),
	)
	return nil
}

// Stop implements core.Stopper. It closes all client connections.
func (b *Bridge) Stop(_ context.Context) error {
	b.store.each(func(s *session) {
		_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	b.logger.Info("wsbridge channel stopped")
	return nil
}

// SetInbox implements channel.Channel.
func (b *Bridge) SetInbox(fn func(ev message.InboundEvent) error) {
	b.inbox = fn
}

// Send implements channel.Channel. The reply is chunked to the
// configured maximum length and each chunk is written to the client
// adapter that delivered the conversation's last inbound message. The
// optional typing delay runs once, before the first chunk.
func (b *Bridge) Send(ctx context.Context, reply message.OutboundReply) error {
	convID := reply.Chat.ConversationID()
	sess, ok := b.store.forConversation(convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoClient, convID)
	}

	if err := b.config.ReplyDelay.Sleep(ctx); err != nil {
		return err
	}

	chunks := channel.SplitText(reply.Text, channel.ChunkConfig{
		MaxLength:      b.config.MaxMessageLength,
		PreserveBlocks: true,
	})

	for i, chunk := range chunks {
		env, err := replyEnvelope(reply, chunk, i+1, len(chunks))
		if err != nil {
			return err
		}
		if err := sess.writeEnvelope(ctx, env); err != nil {
			return err
		}
	}

	b.logger.Debug("reply delivered",
		"conversation", convID,
		"client", sess.ID,
		"chunks", len(chunks),
	)
	return nil
}

// ClientCount returns the number of connected client adapters.
func (b *Bridge) ClientCount() int {
	return b.store.len()
}

func replyEnvelope(reply message.OutboundReply, chunk string, seq, total int) (Envelope, error) {
	payload := ReplyPayload{
		Chat:      reply.Chat,
		Text:      chunk,
		ReplyToID: reply.ReplyToID,
		Seq:       seq,
		Total:     total,
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wsbridge: marshal reply: %w", err)
	}
	return Envelope{
		Type:      TypeReply,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}
