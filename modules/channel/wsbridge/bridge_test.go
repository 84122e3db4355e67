package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/pkg/message"
	"gopkg.in/yaml.v3"
)

func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}

// newTestBridge builds a configured, provisioned, started Bridge plus a
// test server exposing its WebSocket handler. Inbound events appear on
// the returned channel.
func newTestBridge(t *testing.T, configYAML string) (*Bridge, *httptest.Server, chan message.InboundEvent) {
	t.Helper()

	b := &Bridge{}
	if err := b.Configure(mustYAMLNode(t, configYAML)); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appCtx := core.NewAppContext(logger, t.TempDir())
	if err := b.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	inbox := make(chan message.InboundEvent, 16)
	b.SetInbox(func(ev message.InboundEvent) error {
		inbox <- ev
		return nil
	})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	svc, ok := appCtx.Service(HandlerServiceName)
	if !ok {
		t.Fatal("handler service not registered")
	}
	srv := httptest.NewServer(svc.(http.HandlerFunc))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = b.Stop(context.Background()) })

	return b, srv, inbox
}

func dialBridge(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func writeEnv(t *testing.T, ctx context.Context, conn *websocket.Conn, typ EnvelopeType, id string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := Envelope{Type: typ, ID: id, Payload: data, Timestamp: time.Now()}
	raw, _ := json.Marshal(env)
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnv(t *testing.T, ctx context.Context, conn *websocket.Conn) Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// hello performs the handshake and returns the acknowledged session ID.
func hello(t *testing.T, ctx context.Context, conn *websocket.Conn, token string) HelloAck {
	t.Helper()
	writeEnv(t, ctx, conn, TypeHello, "h1", HelloRequest{
		Token:      token,
		ClientName: "test-adapter",
		Platform:   "test",
	})
	env := readEnv(t, ctx, conn)
	if env.Type != TypeHelloAck {
		t.Fatalf("expected hello_ack, got %s", env.Type)
	}
	var ack HelloAck
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

const testConfig = `
tokens:
  - "secret-token"
allow_users:
  - "alice"
`

func TestBridge_ModuleInfo(t *testing.T) {
	t.Parallel()

	b := &Bridge{}
	info := b.ModuleInfo()

	if info.ID != "channel.wsbridge" {
		t.Errorf("ID = %q, want %q", info.ID, "channel.wsbridge")
	}
	if info.New == nil {
		t.Fatal("New func is nil")
	}
	if _, ok := info.New().(*Bridge); !ok {
		t.Error("New() should return *Bridge")
	}
}

func TestBridge_ConfigureDefaults(t *testing.T) {
	t.Parallel()

	b := &Bridge{}
	if err := b.Configure(mustYAMLNode(t, "{}")); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if b.config.MaxClients != defaultMaxClients {
		t.Errorf("MaxClients = %d, want %d", b.config.MaxClients, defaultMaxClients)
	}
	if b.config.MaxMessageLength != defaultMaxMessageLen {
		t.Errorf("MaxMessageLength = %d, want %d", b.config.MaxMessageLength, defaultMaxMessageLen)
	}
}

func TestBridge_ValidateRequiresToken(t *testing.T) {
	t.Parallel()

	b := &Bridge{}
	if err := b.Configure(mustYAMLNode(t, "{}")); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := b.Validate(); err == nil {
		t.Error("expected validation error for missing tokens")
	}
}

func TestBridge_StartRequiresInbox(t *testing.T) {
	t.Parallel()

	b := &Bridge{}
	if err := b.Configure(mustYAMLNode(t, testConfig)); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := b.Provision(core.NewAppContext(logger, t.TempDir())); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := b.Start(); err == nil {
		t.Error("Start without inbox should fail")
	}
}

func TestBridge_HandshakeAccepted(t *testing.T) {
	t.Parallel()

	b, srv, _ := newTestBridge(t, testConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, srv.URL)
	ack := hello(t, ctx, conn, "secret-token")

	if !ack.Accepted {
		t.Fatalf("handshake rejected: %s", ack.Reason)
	}
	if ack.SessionID == "" {
		t.Fatal("expected a session ID")
	}
	if b.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", b.ClientCount())
	}
}

func TestBridge_HandshakeInvalidToken(t *testing.T) {
	t.Parallel()

	b, srv, _ := newTestBridge(t, testConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, srv.URL)
	ack := hello(t, ctx, conn, "wrong-token")

	if ack.Accepted {
		t.Fatal("handshake with invalid token should be rejected")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", b.ClientCount())
	}
}

func TestBridge_InboundMessageReachesInbox(t *testing.T) {
	t.Parallel()

	_, srv, inbox := newTestBridge(t, testConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, srv.URL)
	if ack := hello(t, ctx, conn, "secret-token"); !ack.Accepted {
		t.Fatalf("handshake rejected: %s", ack.Reason)
	}

	writeEnv(t, ctx, conn, TypeMessage, "m1", MessagePayload{
		MessageID: "msg-1",
		Sender:    message.Sender{ID: "alice"},
		Chat:      message.Chat{ID: "alice", Type: message.ChatDM},
		Text:      "hello there",
	})

	select {
	case ev := <-inbox:
		if ev.Text != "hello there" {
			t.Errorf("Text = %q", ev.Text)
		}
		if ev.Channel != "channel.wsbridge" {
			t.Errorf("Channel = %q", ev.Channel)
		}
		if !ev.Coalescible {
			t.Error("omitted coalescible flag should default to true")
		}
		if ev.ConversationID() != "dm:alice" {
			t.Errorf("ConversationID = %q", ev.ConversationID())
		}
	case <-ctx.Done():
		t.Fatal("event never reached inbox")
	}
}

func TestBridge_DisallowedSenderDropped(t *testing.T) {
	t.Parallel()

	_, srv, inbox := newTestBridge(t, testConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, srv.URL)
	if ack := hello(t, ctx, conn, "secret-token"); !ack.Accepted {
		t.Fatal("handshake rejected")
	}

	writeEnv(t, ctx, conn, TypeMessage, "m1", MessagePayload{
		MessageID: "msg-1",
		Sender:    message.Sender{ID: "mallory"},
		Chat:      message.Chat{ID: "mallory", Type: message.ChatDM},
		Text:      "let me in",
	})
	// Follow with an allowed message so we can detect ordering.
	writeEnv(t, ctx, conn, TypeMessage, "m2", MessagePayload{
		MessageID: "msg-2",
		Sender:    message.Sender{ID: "alice"},
		Chat:      message.Chat{ID: "alice", Type: message.ChatDM},
		Text:      "hi",
	})

	select {
	case ev := <-inbox:
		if ev.Sender.ID != "alice" {
			t.Fatalf("disallowed sender %q reached inbox", ev.Sender.ID)
		}
	case <-ctx.Done():
		t.Fatal("allowed event never arrived")
	}
}

func TestBridge_SendRoutesReply(t *testing.T) {
	t.Parallel()

	b, srv, inbox := newTestBridge(t, testConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, srv.URL)
	if ack := hello(t, ctx, conn, "secret-token"); !ack.Accepted {
		t.Fatal("handshake rejected")
	}

	writeEnv(t, ctx, conn, TypeMessage, "m1", MessagePayload{
		MessageID: "msg-1",
		Sender:    message.Sender{ID: "alice"},
		Chat:      message.Chat{ID: "alice", Type: message.ChatDM},
		Text:      "question",
	})
	<-inbox

	err := b.Send(ctx, message.OutboundReply{
		Channel:   "channel.wsbridge",
		Chat:      message.Chat{ID: "alice", Type: message.ChatDM},
		Text:      "answer",
		ReplyToID: "msg-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	env := readEnv(t, ctx, conn)
	if env.Type != TypeReply {
		t.Fatalf("expected reply, got %s", env.Type)
	}
	var reply ReplyPayload
	if err := json.Unmarshal(env.Payload, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Text != "answer" || reply.ReplyToID != "msg-1" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Seq != 1 || reply.Total != 1 {
		t.Errorf("seq/total = %d/%d, want 1/1", reply.Seq, reply.Total)
	}
}

func TestBridge_SendChunksLongReply(t *testing.T) {
	t.Parallel()

	cfg := testConfig + "max_message_length: 16\n"
	b, srv, inbox := newTestBridge(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, srv.URL)
	if ack := hello(t, ctx, conn, "secret-token"); !ack.Accepted {
		t.Fatal("handshake rejected")
	}
	writeEnv(t, ctx, conn, TypeMessage, "m1", MessagePayload{
		MessageID: "msg-1",
		Sender:    message.Sender{ID: "alice"},
		Chat:      message.Chat{ID: "alice", Type: message.ChatDM},
		Text:      "question",
	})
	<-inbox

	err := b.Send(ctx, message.OutboundReply{
		Channel: "channel.wsbridge",
		Chat:    message.Chat{ID: "alice", Type: message.ChatDM},
		Text:    "first line\nsecond line\nthird line",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []ReplyPayload
	for {
		env := readEnv(t, ctx, conn)
		var reply ReplyPayload
		if err := json.Unmarshal(env.Payload, &reply); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		got = append(got, reply)
		if reply.Seq == reply.Total {
			break
		}
	}
	if len(got) < 2 {
		t.Fatalf("expected chunked reply, got %d envelopes", len(got))
	}
	for i, r := range got {
		if r.Seq != i+1 {
			t.Errorf("chunk %d has seq %d", i, r.Seq)
		}
		if r.Total != len(got) {
			t.Errorf("chunk %d has total %d, want %d", i, r.Total, len(got))
		}
	}
}

func TestBridge_SendWithoutClient(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBridge(t, testConfig)

	err := b.Send(context.Background(), message.OutboundReply{
		Channel: "channel.wsbridge",
		Chat:    message.Chat{ID: "alice", Type: message.ChatDM},
		Text:    "orphan reply",
	})
	if !errors.Is(err, ErrNoClient) {
		t.Fatalf("err = %v, want ErrNoClient", err)
	}
}

func TestBridge_PingPong(t *testing.T) {
	t.Parallel()

	_, srv, _ := newTestBridge(t, testConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, srv.URL)
	if ack := hello(t, ctx, conn, "secret-token"); !ack.Accepted {
		t.Fatal("handshake rejected")
	}

	writeEnv(t, ctx, conn, TypePing, "p1", struct{}{})
	env := readEnv(t, ctx, conn)
	if env.Type != TypePong || env.ID != "p1" {
		t.Fatalf("expected pong p1, got %s %s", env.Type, env.ID)
	}
}

func TestBridge_MaxClients(t *testing.T) {
	t.Parallel()

	cfg := testConfig + "max_clients: 1\n"
	_, srv, _ := newTestBridge(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := dialBridge(t, ctx, srv.URL)
	if ack := hello(t, ctx, first, "secret-token"); !ack.Accepted {
		t.Fatal("first handshake rejected")
	}

	second := dialBridge(t, ctx, srv.URL)
	ack := hello(t, ctx, second, "secret-token")
	if ack.Accepted {
		t.Fatal("second client should be rejected at max_clients 1")
	}
}
