package channel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/pkg/message"
)

// mockChannel records sent replies.
type mockChannel struct {
	mu   sync.Mutex
	sent []message.OutboundReply
	err  error
}

func (m *mockChannel) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "channel.mock", New: func() core.Module { return &mockChannel{} }}
}

func (m *mockChannel) Send(_ context.Context, reply message.OutboundReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, reply)
	return nil
}

func (m *mockChannel) SetInbox(func(message.InboundEvent) error) {}

func TestDispatcher_Send(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	mock := &mockChannel{}
	if err := d.Register("wsbridge", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reply := message.OutboundReply{
		Channel: "wsbridge",
		Chat:    message.Chat{ID: "alice", Type: message.ChatDM},
		Text:    "hello",
	}
	if err := d.Send(context.Background(), reply); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mock.sent) != 1 || mock.sent[0].Text != "hello" {
		t.Fatalf("sent = %+v", mock.sent)
	}
}

func TestDispatcher_SendUnknownChannel(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	err := d.Send(context.Background(), message.OutboundReply{Channel: "nope"})
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("err = %v, want ErrNoChannel", err)
	}
}

func TestDispatcher_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	if err := d.Register("wsbridge", &mockChannel{}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := d.Register("wsbridge", &mockChannel{}); !errors.Is(err, ErrDuplicateChannel) {
		t.Fatalf("err = %v, want ErrDuplicateChannel", err)
	}
}

func TestDispatcher_Channels(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	_ = d.Register("a", &mockChannel{})
	_ = d.Register("b", &mockChannel{})

	names := d.Channels()
	if len(names) != 2 {
		t.Fatalf("Channels = %v", names)
	}
}
