package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/chatpilot/pkg/message"
)

const helloReadTimeout = 10 * time.Second

// handleWebSocket runs the full connection lifecycle for one client
// adapter: hello -> read loop -> cleanup.
func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	sess, err := b.handleHello(r.Context(), conn)
	if err != nil {
		b.logger.Warn("client handshake failed", "error", err)
		return
	}

	b.logger.Info("client connected",
		"session_id", sess.ID,
		"name", sess.Name,
		"platform", sess.Platform,
	)

	b.readLoop(r.Context(), conn, sess)

	b.store.remove(sess.ID)
	b.logger.Info("client disconnected", "session_id", sess.ID)
}

// handleHello reads the hello envelope, validates the token, and
// registers the session. The client must send hello within
// helloReadTimeout.
func (b *Bridge) handleHello(ctx context.Context, conn *websocket.Conn) (*session, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloReadTimeout)
	defer cancel()

	_, data, err := conn.Read(helloCtx)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.sendError(ctx, conn, "", "invalid message format")
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type != TypeHello {
		b.sendError(ctx, conn, env.ID, "expected hello")
		return nil, fmt.Errorf("unexpected message type: %s", env.Type)
	}

	var req HelloRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		b.sendError(ctx, conn, env.ID, "invalid hello payload")
		return nil, fmt.Errorf("unmarshal hello: %w", err)
	}

	if _, ok := b.tokens[req.Token]; !ok {
		b.sendHelloAck(ctx, conn, env.ID, HelloAck{Accepted: false, Reason: "invalid token"})
		return nil, fmt.Errorf("wsbridge: invalid token from %q", req.ClientName)
	}

	id, err := generateSessionID()
	if err != nil {
		b.sendError(ctx, conn, env.ID, "internal error")
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	sess := &session{
		ID:          id,
		Name:        req.ClientName,
		Platform:    req.Platform,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	if !b.store.addIfUnder(sess, b.config.MaxClients) {
		b.sendHelloAck(ctx, conn, env.ID, HelloAck{Accepted: false, Reason: "maximum number of clients reached"})
		return nil, fmt.Errorf("wsbridge: max clients (%d) reached", b.config.MaxClients)
	}

	b.sendHelloAck(ctx, conn, env.ID, HelloAck{Accepted: true, SessionID: id})
	return sess, nil
}

// readLoop processes envelopes from a paired client until the
// connection drops.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.logger.Warn("invalid message from client", "session_id", sess.ID, "error", err)
			continue
		}

		switch env.Type {
		case TypePing:
			b.sendPong(ctx, sess, env.ID)

		case TypeMessage:
			b.handleMessage(sess, env)

		default:
			b.logger.Warn("unexpected message type in read loop",
				"session_id", sess.ID,
				"type", env.Type,
			)
		}
	}
}

// handleMessage converts a message envelope into an InboundEvent,
// applies the allow list, and pushes the event into the inbox.
func (b *Bridge) handleMessage(sess *session, env Envelope) {
	var payload MessagePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		b.logger.Warn("invalid message payload", "session_id", sess.ID, "error", err)
		return
	}

	ev := message.InboundEvent{
		ID:          payload.MessageID,
		Timestamp:   env.Timestamp,
		Channel:     string(b.ModuleInfo().ID),
		Sender:      payload.Sender,
		Chat:        payload.Chat,
		Text:        payload.Text,
		Coalescible: payload.Coalescible == nil || *payload.Coalescible,
		Raw:         payload.Raw,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := ev.Validate(); err != nil {
		b.logger.Warn("dropping invalid event", "session_id", sess.ID, "error", err)
		return
	}

	if !b.allowList.IsAllowed(ev) {
		b.logger.Debug("dropping event from disallowed sender",
			"sender", ev.Sender.ID,
			"chat", ev.Chat.ID,
		)
		return
	}

	b.store.route(ev.ConversationID(), sess.ID)

	if err := b.inbox(ev); err != nil {
		b.logger.Error("inbox rejected event",
			"session_id", sess.ID,
			"conversation", ev.ConversationID(),
			"error", err,
		)
	}
}

func (b *Bridge) sendHelloAck(ctx context.Context, conn *websocket.Conn, id string, ack HelloAck) {
	payload, _ := json.Marshal(ack)
	b.writeRaw(ctx, conn, Envelope{
		Type:      TypeHelloAck,
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func (b *Bridge) sendError(ctx context.Context, conn *websocket.Conn, id, msg string) {
	payload, _ := json.Marshal(ErrorPayload{Message: msg})
	b.writeRaw(ctx, conn, Envelope{
		Type:      TypeError,
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func (b *Bridge) sendPong(ctx context.Context, sess *session, id string) {
	env := Envelope{Type: TypePong, ID: id, Timestamp: time.Now()}
	if err := sess.writeEnvelope(ctx, env); err != nil {
		b.logger.Warn("pong write failed", "session_id", sess.ID, "error", err)
	}
}

// writeRaw writes an envelope to a connection that has no session yet.
func (b *Bridge) writeRaw(ctx context.Context, conn *websocket.Conn, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("marshal envelope failed", "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		b.logger.Warn("write envelope failed", "error", err)
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
