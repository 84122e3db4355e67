package wsbridge

import (
	"encoding/json"
	"time"

	"github.com/flemzord/chatpilot/pkg/message"
)

// EnvelopeType identifies the kind of WebSocket message in the bridge protocol.
type EnvelopeType string

// Protocol message types exchanged over the WebSocket connection.
const (
	TypeHello    EnvelopeType = "hello"
	TypeHelloAck EnvelopeType = "hello_ack"
	TypeMessage  EnvelopeType = "message"
	TypeReply    EnvelopeType = "reply"
	TypePing     EnvelopeType = "ping"
	TypePong     EnvelopeType = "pong"
	TypeError    EnvelopeType = "error"
)

// Envelope is the wire format for all bridge messages.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HelloRequest is sent by a client adapter to authenticate.
type HelloRequest struct {
	Token      string `json:"token"`
	ClientName string `json:"client_name"`
	Platform   string `json:"platform"`
}

// HelloAck is the server's response to a HelloRequest.
type HelloAck struct {
	Accepted  bool   `json:"accepted"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// MessagePayload carries an inbound chat message from a client adapter.
type MessagePayload struct {
	MessageID   string          `json:"message_id"`
	Sender      message.Sender  `json:"sender"`
	Chat        message.Chat    `json:"chat"`
	Text        string          `json:"text"`
	Coalescible *bool           `json:"coalescible,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// ReplyPayload carries an assistant reply back to a client adapter. A
// multi-chunk reply arrives as several envelopes sharing the same
// ReplyToID, with Seq increasing from 1.
type ReplyPayload struct {
	Chat      message.Chat `json:"chat"`
	Text      string       `json:"text"`
	ReplyToID string       `json:"reply_to_id,omitempty"`
	Seq       int          `json:"seq"`
	Total     int          `json:"total"`
}

// ErrorPayload describes a protocol-level failure.
type ErrorPayload struct {
	Message string `json:"message"`
}
