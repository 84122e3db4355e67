package message

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// InboundEvent represents one message received from a channel.
type InboundEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	Sender    Sender    `json:"sender"`
	Chat      Chat      `json:"chat"`
	Text      string    `json:"text"`

	// Coalescible marks events eligible for burst merging. Events that
	// need individual handling (voice notes pending transcription,
	// commands) set this false and are dispatched immediately.
	Coalescible bool `json:"coalescible"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// ConversationID returns the conversation key the pipeline serializes on.
func (e *InboundEvent) ConversationID() string {
	return e.Chat.ConversationID()
}

// ErrEmptyText is returned when an inbound event carries no usable text.
var ErrEmptyText = errors.New("message: inbound event text is empty")

// Validate checks the event once at the channel boundary so the rest of
// the pipeline can assume a well-formed event.
func (e *InboundEvent) Validate() error {
	if err := e.Chat.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// OutboundReply is the pipeline's answer, addressed back to the chat
// the triggering event came from.
type OutboundReply struct {
	Channel string `json:"channel"`
	Chat    Chat   `json:"chat"`
	Text    string `json:"text"`

	// ReplyToID references the inbound event that produced this reply,
	// for channels that support threading.
	ReplyToID string `json:"reply_to_id,omitempty"`
}
