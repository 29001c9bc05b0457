// Package models defines the shared types passed between the store, the
// generation pipeline, and the channel adapters.
package models

// Role tags a turn in a conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a conversation's history. Slice order
// is chronological and is the literal prompt order sent upstream.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Conversation identifies the surface an exchange happens on. ID is the
// platform channel identifier and doubles as the store primary key.
// GuildID is empty for direct messages.
type Conversation struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	GuildID  string `json:"guild_id,omitempty"`
}

// IsDirect reports whether the conversation is a direct message rather than
// a group or guild channel.
func (c Conversation) IsDirect() bool {
	return c.GuildID == ""
}

// Message is the unified inbound message format produced by channel adapters.
type Message struct {
	Conversation Conversation

	// MessageID is the platform identifier of the inbound message.
	MessageID string

	UserID   string
	UserNick string
	UserName string

	// ChannelName is the platform-provided channel name, when the inbound
	// event carried one. May be empty; resolution falls back to lookups.
	ChannelName string

	Content string

	// FromSelf is set when the message was authored by the bot itself.
	FromSelf bool

	// MentionsSelf is set when the bot is explicitly mentioned.
	MentionsSelf bool
}
