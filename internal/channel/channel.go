// Package channel defines the bridge between messaging platforms and
// the request pipeline: the Channel interface, outbound dispatch,
// allow-list filtering, reply chunking, and humanized reply delays.
package channel

import (
	"context"

	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/pkg/message"
)

// Channel is the bridge between a messaging platform and the pipeline.
// Every concrete channel (wsbridge, etc.) must implement this interface.
//
// A channel receives messages from its platform, checks the allow-list,
// and pushes them to the pipeline via the inbox callback. It also
// receives outbound replies from the pipeline via Send().
type Channel interface {
	core.Module

	// Send delivers an outbound reply to the platform.
	Send(ctx context.Context, reply message.OutboundReply) error

	// SetInbox gives the channel a function to push inbound events to
	// the pipeline. Called during wiring, before Start().
	SetInbox(fn func(ev message.InboundEvent) error)
}
