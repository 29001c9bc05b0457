// Package discord connects the chat pipeline to Discord over the gateway
// websocket. The adapter doubles as the platform's identity directory and
// its restricted-content surface gate.
package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nekocord/nekocord/internal/agents"
	"github.com/nekocord/nekocord/internal/channels"
	"github.com/nekocord/nekocord/internal/chat"
	"github.com/nekocord/nekocord/internal/commands"
	"github.com/nekocord/nekocord/internal/markdown"
	"github.com/nekocord/nekocord/internal/reconcile"
	"github.com/nekocord/nekocord/internal/text"
	"github.com/nekocord/nekocord/internal/wakeup"
	"github.com/nekocord/nekocord/pkg/models"
)

// Platform is the platform tag carried by conversations from this adapter.
const Platform = "discord"

// discordSession interface allows for mocking the Discord session in tests.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
}

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token from Discord Developer Portal (required)
	Token string

	// RateLimit configures rate limiting for edit calls (operations per
	// second). Message edits are the hot path during streaming.
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting
	RateBurst int

	// Logger is an optional slog.Logger instance
	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 1
	}
	if c.RateBurst == 0 {
		c.RateBurst = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter bridges Discord gateway events into generations and streams the
// responses back through in-place message edits.
type Adapter struct {
	config     Config
	session    discordSession
	pipeline   *chat.Pipeline
	router     *wakeup.Router
	dispatcher *commands.Dispatcher
	catalog    *text.Catalog
	limiter    *channels.RateLimiter
	logger     *slog.Logger

	mu     sync.RWMutex
	selfID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates a new Discord adapter with the given configuration.
func NewAdapter(config Config, pipeline *chat.Pipeline, router *wakeup.Router, dispatcher *commands.Dispatcher, catalog *text.Catalog) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:     config,
		pipeline:   pipeline,
		router:     router,
		dispatcher: dispatcher,
		catalog:    catalog,
		limiter:    channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:     config.Logger.With("adapter", "discord"),
	}, nil
}

// Start opens the gateway connection and registers event handlers.
func (a *Adapter) Start(ctx context.Context) error {
	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return channels.ErrAuthentication("failed to create Discord session", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
		a.session = dg
	}

	a.session.AddHandler(a.handleReady)
	a.session.AddHandler(a.handleMessageCreate)

	// Events can arrive the moment the gateway opens.
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.session.Open(); err != nil {
		a.cancel()
		return channels.ErrConnection("failed to connect to Discord", err)
	}

	a.logger.Info("discord adapter started", "rate_limit", a.config.RateLimit)
	return nil
}

// Stop closes the gateway connection and waits for in-flight responses.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("stop timeout, forcing shutdown")
	}

	if err := a.session.Close(); err != nil {
		return channels.ErrConnection("failed to close Discord session", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

// Event handlers

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.selfID = r.User.ID
	a.mu.Unlock()

	a.logger.Info("discord connection ready",
		"user", r.User.Username,
		"guilds", len(r.Guilds))
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	a.mu.RLock()
	selfID := a.selfID
	a.mu.RUnlock()
	if m.Author.ID == selfID || m.Author.Bot {
		return
	}

	msg := a.convertMessage(m.Message, selfID)
	a.logger.Debug("received message",
		"channel_id", msg.Conversation.ID,
		"user_id", msg.UserID,
		"content_length", len(msg.Content))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.handle(a.ctx, msg)
	}()
}

func (a *Adapter) handle(ctx context.Context, msg *models.Message) {
	if res := a.dispatcher.Execute(ctx, msg, a); res.Handled {
		if res.Prompt != "" {
			msg.Content = res.Prompt
			a.respond(ctx, msg)
			return
		}
		if res.Reply != "" {
			a.reply(msg.Conversation.ID, res.Reply)
		}
		return
	}

	ok, err := a.router.ShouldRespond(ctx, msg, a)
	if err != nil {
		a.logger.Error("wake routing failed", "error", err)
		return
	}
	if !ok {
		return
	}
	a.respond(ctx, msg)
}

// respond runs one streaming generation and reconciles its fragments into
// a placeholder reply that quotes the triggering message.
func (a *Adapter) respond(ctx context.Context, msg *models.Message) {
	profile, err := a.pipeline.ActiveProfile(ctx, msg)
	if err != nil {
		a.logger.Error("profile resolve failed", "error", err)
		return
	}

	placeholder, err := a.session.ChannelMessageSendComplex(msg.Conversation.ID, &discordgo.MessageSend{
		Content: a.catalog.Lookup("loading"),
		Reference: &discordgo.MessageReference{
			MessageID: msg.MessageID,
			ChannelID: msg.Conversation.ID,
			GuildID:   msg.Conversation.GuildID,
		},
	})
	if err != nil {
		a.logger.Error("placeholder send failed", "channel_id", msg.Conversation.ID, "error", err)
		return
	}
	if err := a.session.ChannelTyping(msg.Conversation.ID); err != nil {
		a.logger.Debug("typing indicator failed", "error", err)
	}

	r := reconcile.New(a, reconcile.Config{
		MaxAttempts: profile.MaxEditRetries,
		Notice:      a.catalog.Lookup("not-responding"),
		Transform:   markdown.TrimmedTransform,
		Logger:      a.logger,
	})
	if _, err := r.Run(ctx, msg.Conversation.ID, placeholder.ID, a.pipeline.Stream(ctx, msg)); err != nil {
		a.logger.Error("response reconciliation failed",
			"channel_id", msg.Conversation.ID,
			"message_id", placeholder.ID,
			"error", err)
	}
}

func (a *Adapter) reply(channelID, content string) {
	if _, err := a.session.ChannelMessageSend(channelID, content); err != nil {
		a.logger.Error("reply send failed", "channel_id", channelID, "error", err)
	}
}

// EditMessage implements reconcile.Editor with rate limiting applied.
func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}
	if _, err := a.session.ChannelMessageEdit(channelID, messageID, content); err != nil {
		return channels.ErrInternal("failed to edit message", err)
	}
	return nil
}

// Message conversion

func (a *Adapter) convertMessage(m *discordgo.Message, selfID string) *models.Message {
	msg := &models.Message{
		Conversation: models.Conversation{
			Platform: Platform,
			ID:       m.ChannelID,
			GuildID:  m.GuildID,
		},
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   stripMentions(m, selfID),
		FromSelf:  m.Author.ID == selfID,
	}
	if m.Author.GlobalName != "" {
		msg.UserName = m.Author.GlobalName
	}
	if m.Member != nil && m.Member.Nick != "" {
		msg.UserNick = m.Member.Nick
	}
	for _, u := range m.Mentions {
		if u.ID == selfID {
			msg.MentionsSelf = true
			break
		}
	}
	return msg
}

// stripMentions rewrites raw mention markup: mentions of the bot itself
// vanish, mentions of others become a plain @name.
func stripMentions(m *discordgo.Message, selfID string) string {
	content := m.Content
	for _, u := range m.Mentions {
		replacement := ""
		if u.ID != selfID {
			name := u.Username
			if u.GlobalName != "" {
				name = u.GlobalName
			}
			replacement = "@" + name
		}
		content = strings.ReplaceAll(content, "<@"+u.ID+">", replacement)
		content = strings.ReplaceAll(content, "<@!"+u.ID+">", replacement)
	}
	return strings.TrimSpace(content)
}

// Identity directory

// LookupUser resolves a user's profile names through the REST API.
func (a *Adapter) LookupUser(ctx context.Context, userID string) (nick, name string, err error) {
	u, err := a.session.User(userID)
	if err != nil {
		return "", "", channels.ErrNotFound("user lookup failed", err)
	}
	return u.GlobalName, u.Username, nil
}

// LookupChannel resolves a channel's display name.
func (a *Adapter) LookupChannel(ctx context.Context, channelID string) (string, error) {
	ch, err := a.session.Channel(channelID)
	if err != nil {
		return "", channels.ErrNotFound("channel lookup failed", err)
	}
	return ch.Name, nil
}

// LookupGuild resolves a guild's display name.
func (a *Adapter) LookupGuild(ctx context.Context, guildID string) (string, error) {
	g, err := a.session.Guild(guildID)
	if err != nil {
		return "", channels.ErrNotFound("guild lookup failed", err)
	}
	return g.Name, nil
}

// AllowsRestricted implements agents.Surface using the channel's NSFW flag.
func (a *Adapter) AllowsRestricted(ctx context.Context, channelID string) (bool, error) {
	ch, err := a.session.Channel(channelID)
	if err != nil {
		return false, channels.ErrNotFound("channel lookup failed", err)
	}
	return ch.NSFW, nil
}

var _ agents.Surface = (*Adapter)(nil)
var _ reconcile.Editor = (*Adapter)(nil)
