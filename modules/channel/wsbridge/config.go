package wsbridge

import (
	"fmt"

	"github.com/flemzord/chatpilot/internal/channel"
)

const (
	defaultMaxClients    = 8
	defaultMaxMessageLen = 4000
)

// Config holds the WebSocket bridge configuration.
type Config struct {
	Tokens           []string           `yaml:"tokens"`
	AllowUsers       []string           `yaml:"allow_users"`
	AllowGroups      []string           `yaml:"allow_groups"`
	MaxClients       int                `yaml:"max_clients"`
	MaxMessageLength int                `yaml:"max_message_length"`
	ReplyDelay       channel.DelayRange `yaml:"reply_delay"`
}

// defaults applies default values to unset fields.
func (c *Config) defaults() {
	if c.MaxClients <= 0 {
		c.MaxClients = defaultMaxClients
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = defaultMaxMessageLen
	}
}

// validate checks field constraints after defaults have been applied.
func (c *Config) validate() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("wsbridge: at least one token is required")
	}
	for _, t := range c.Tokens {
		if t == "" {
			return fmt.Errorf("wsbridge: empty token in tokens list")
		}
	}
	if c.MaxMessageLength < 0 {
		return fmt.Errorf("wsbridge: max_message_length must be >= 0, got %d", c.MaxMessageLength)
	}
	if c.ReplyDelay.Max < 0 || c.ReplyDelay.Min < 0 {
		return fmt.Errorf("wsbridge: reply_delay bounds must be non-negative")
	}
	if c.ReplyDelay.Max > 0 && c.ReplyDelay.Min > c.ReplyDelay.Max {
		return fmt.Errorf("wsbridge: reply_delay min %s exceeds max %s", c.ReplyDelay.Min, c.ReplyDelay.Max)
	}
	return nil
}
