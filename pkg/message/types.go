// Package message defines the platform-agnostic data contract between
// channels and the request pipeline.
package message

import "errors"

// ChatType indicates the kind of conversation.
type ChatType string

const (
	// ChatDM is a direct (one-to-one) conversation.
	ChatDM ChatType = "dm"
	// ChatGroup is a multi-participant group conversation.
	ChatGroup ChatType = "group"
)

// Sender identifies the author of an inbound event.
type Sender struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Chat identifies the conversation an event belongs to.
type Chat struct {
	ID    string   `json:"id"`
	Type  ChatType `json:"type"`
	Title string   `json:"title,omitempty"`
}

// IsGroup reports whether the chat is a group conversation.
func (c Chat) IsGroup() bool {
	return c.Type == ChatGroup
}

// ConversationID returns the pipeline's conversation key, namespaced by
// chat type so a group and a DM with the same id never collide.
func (c Chat) ConversationID() string {
	return string(c.Type) + ":" + c.ID
}

// ErrInvalidChat is returned when a chat is missing its id or type.
var ErrInvalidChat = errors.New("message: chat requires id and type")

// Validate checks that the chat can produce a stable conversation id.
func (c Chat) Validate() error {
	if c.ID == "" {
		return ErrInvalidChat
	}
	switch c.Type {
	case ChatDM, ChatGroup:
		return nil
	default:
		return ErrInvalidChat
	}
}
