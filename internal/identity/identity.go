// Package identity resolves display names for users, channels, and guilds
// through whatever lookup capability the originating platform provides.
// Every resolution degrades through a documented fallback chain and ends at
// the raw identifier, so callers always get a usable label.
package identity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nekocord/nekocord/pkg/models"
)

// Directory is the identity-lookup capability of a platform adapter.
type Directory interface {
	// LookupUser returns the nickname and profile name for a user.
	// Either value may be empty.
	LookupUser(ctx context.Context, userID string) (nick, name string, err error)
	// LookupChannel returns the channel's display name.
	LookupChannel(ctx context.Context, channelID string) (string, error)
	// LookupGuild returns the guild's display name.
	LookupGuild(ctx context.Context, guildID string) (string, error)
}

// Mux routes lookups to the Directory registered for a platform. Adapters
// register themselves on start; resolution against an unregistered platform
// simply exhausts the fallback chain.
type Mux struct {
	mu   sync.RWMutex
	dirs map[string]Directory
}

// NewMux creates an empty directory mux.
func NewMux() *Mux {
	return &Mux{dirs: make(map[string]Directory)}
}

// Register binds a platform name to its directory.
func (m *Mux) Register(platform string, dir Directory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[platform] = dir
}

func (m *Mux) directory(platform string) Directory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[platform]
}

// Resolver produces display names from inbound messages.
type Resolver struct {
	mux *Mux
	// privateLabel is the localized label used as the guild name of direct
	// messages.
	privateLabel string
	log          *slog.Logger
}

// NewResolver creates a resolver over the given mux. privateLabel is the
// guild-name stand-in for direct messages.
func NewResolver(mux *Mux, privateLabel string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{mux: mux, privateLabel: privateLabel, log: logger.With("component", "identity")}
}

// DisplayName resolves the sender's display name: nickname, then profile
// name, then a directory lookup, then the raw user id.
func (r *Resolver) DisplayName(ctx context.Context, m *models.Message) string {
	if m.UserNick != "" {
		return m.UserNick
	}
	if m.UserName != "" {
		return m.UserName
	}
	if dir := r.mux.directory(m.Conversation.Platform); dir != nil {
		nick, name, err := dir.LookupUser(ctx, m.UserID)
		if err != nil {
			r.log.Debug("user lookup failed", "user_id", m.UserID, "error", err)
		} else if nick != "" {
			return nick
		} else if name != "" {
			return name
		}
	}
	return m.UserID
}

// ChannelName resolves the conversation's channel name. The event-provided
// name wins; guild channels then try a channel lookup, direct messages try
// the sender's profile name, a channel lookup, and a user lookup. The raw
// channel id is the terminal fallback.
func (r *Resolver) ChannelName(ctx context.Context, m *models.Message) string {
	if m.ChannelName != "" {
		return m.ChannelName
	}
	dir := r.mux.directory(m.Conversation.Platform)
	if !m.Conversation.IsDirect() {
		if dir != nil {
			if name, err := dir.LookupChannel(ctx, m.Conversation.ID); err == nil && name != "" {
				return name
			}
		}
		return m.Conversation.ID
	}
	if m.UserName != "" {
		return m.UserName
	}
	if dir != nil {
		if name, err := dir.LookupChannel(ctx, m.Conversation.ID); err == nil && name != "" {
			return name
		}
		if nick, name, err := dir.LookupUser(ctx, m.UserID); err == nil {
			if nick != "" {
				return nick
			}
			if name != "" {
				return name
			}
		}
	}
	return m.Conversation.ID
}

// GuildName resolves the conversation's guild name, or the localized
// direct-message label when there is no guild.
func (r *Resolver) GuildName(ctx context.Context, m *models.Message) string {
	if m.Conversation.IsDirect() {
		return r.privateLabel
	}
	if dir := r.mux.directory(m.Conversation.Platform); dir != nil {
		if name, err := dir.LookupGuild(ctx, m.Conversation.GuildID); err == nil && name != "" {
			return name
		}
	}
	return m.Conversation.GuildID
}
