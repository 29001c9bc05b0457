// Package telegram connects the chat pipeline to Telegram over long
// polling. Telegram replies are sent whole once generation finishes; the
// platform throttles message edits too aggressively for per-fragment
// streaming.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/nekocord/nekocord/internal/channels"
	"github.com/nekocord/nekocord/internal/chat"
	"github.com/nekocord/nekocord/internal/commands"
	"github.com/nekocord/nekocord/internal/markdown"
	"github.com/nekocord/nekocord/internal/wakeup"
	"github.com/nekocord/nekocord/pkg/models"
)

// Platform is the platform tag carried by conversations from this adapter.
const Platform = "telegram"

// botClient abstracts the bot.Bot methods used by the adapter so tests can
// substitute a mock.
type botClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*tgmodels.ChatFullInfo, error)
	GetMe(ctx context.Context) (*tgmodels.User, error)
	Start(ctx context.Context)
}

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required)
	Token string

	// Logger is an optional slog.Logger instance
	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter bridges Telegram updates into generations.
type Adapter struct {
	config     Config
	client     botClient
	pipeline   *chat.Pipeline
	router     *wakeup.Router
	dispatcher *commands.Dispatcher
	logger     *slog.Logger

	mu           sync.RWMutex
	selfID       int64
	selfUsername string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates a new Telegram adapter with the given configuration.
func NewAdapter(config Config, pipeline *chat.Pipeline, router *wakeup.Router, dispatcher *commands.Dispatcher) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:     config,
		pipeline:   pipeline,
		router:     router,
		dispatcher: dispatcher,
		logger:     config.Logger.With("adapter", "telegram"),
	}, nil
}

// Start connects the bot and begins long polling in the background.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.client == nil {
		b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
		if err != nil {
			return channels.ErrAuthentication("failed to create bot", err)
		}
		a.client = b
	}

	me, err := a.client.GetMe(ctx)
	if err != nil {
		return channels.ErrAuthentication("failed to identify bot", err)
	}
	a.mu.Lock()
	a.selfID = me.ID
	a.selfUsername = me.Username
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.client.Start(ctx)
	}()

	a.logger.Info("telegram adapter started", "bot", me.Username)
	return nil
}

// Stop halts long polling and waits for in-flight responses.
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
	a.logger.Info("telegram adapter stopped")
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return
	}
	a.mu.RLock()
	selfID := a.selfID
	selfUsername := a.selfUsername
	a.mu.RUnlock()
	if update.Message.From.ID == selfID {
		return
	}

	msg := convertUpdate(update.Message, selfUsername)
	a.logger.Debug("received message",
		"chat_id", msg.Conversation.ID,
		"user_id", msg.UserID,
		"content_length", len(msg.Content))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.handle(ctx, msg)
	}()
}

func (a *Adapter) handle(ctx context.Context, msg *models.Message) {
	// Telegram has no restricted-channel flag, so no surface gate is
	// offered; restricted agents stay confined to direct messages.
	if res := a.dispatcher.Execute(ctx, msg, nil); res.Handled {
		if res.Prompt != "" {
			msg.Content = res.Prompt
			a.respond(ctx, msg)
			return
		}
		if res.Reply != "" {
			a.reply(ctx, msg.Conversation.ID, res.Reply)
		}
		return
	}

	ok, err := a.router.ShouldRespond(ctx, msg, nil)
	if err != nil {
		a.logger.Error("wake routing failed", "error", err)
		return
	}
	if !ok {
		return
	}
	a.respond(ctx, msg)
}

func (a *Adapter) respond(ctx context.Context, msg *models.Message) {
	reply, err := a.pipeline.Generate(ctx, msg)
	if err != nil {
		a.logger.Error("generation failed", "chat_id", msg.Conversation.ID, "error", err)
		return
	}
	if reply == "" {
		return
	}
	a.reply(ctx, msg.Conversation.ID, markdown.TrimmedTransform(reply))
}

func (a *Adapter) reply(ctx context.Context, chatID, content string) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		a.logger.Error("bad chat id", "chat_id", chatID, "error", err)
		return
	}
	if _, err := a.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: id, Text: content}); err != nil {
		a.logger.Error("reply send failed", "chat_id", chatID, "error", err)
	}
}

// Message conversion

func convertUpdate(m *tgmodels.Message, selfUsername string) *models.Message {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	conv := models.Conversation{Platform: Platform, ID: chatID}
	if m.Chat.Type != "private" {
		// Group chats double as their own guild so direct-message
		// defaults do not apply.
		conv.GuildID = chatID
	}

	content := m.Text
	mentionsSelf := false
	if selfUsername != "" && strings.Contains(content, "@"+selfUsername) {
		mentionsSelf = true
		content = strings.TrimSpace(strings.ReplaceAll(content, "@"+selfUsername, ""))
	}

	msg := &models.Message{
		Conversation: conv,
		MessageID:    strconv.Itoa(m.ID),
		UserID:       strconv.FormatInt(m.From.ID, 10),
		UserName:     m.From.Username,
		Content:      content,
		MentionsSelf: mentionsSelf,
	}
	if m.From.FirstName != "" {
		msg.UserNick = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	if m.Chat.Type != "private" && m.Chat.Title != "" {
		msg.ChannelName = m.Chat.Title
	}
	return msg
}

// Identity directory

// LookupUser resolves a user's names through their private chat record.
func (a *Adapter) LookupUser(ctx context.Context, userID string) (nick, name string, err error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", "", channels.ErrInvalidInput("bad user id", err)
	}
	info, err := a.client.GetChat(ctx, &bot.GetChatParams{ChatID: id})
	if err != nil {
		return "", "", channels.ErrNotFound("user lookup failed", err)
	}
	nick = strings.TrimSpace(info.FirstName + " " + info.LastName)
	return nick, info.Username, nil
}

// LookupChannel resolves a chat's display title.
func (a *Adapter) LookupChannel(ctx context.Context, channelID string) (string, error) {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", channels.ErrInvalidInput("bad chat id", err)
	}
	info, err := a.client.GetChat(ctx, &bot.GetChatParams{ChatID: id})
	if err != nil {
		return "", channels.ErrNotFound("chat lookup failed", err)
	}
	if info.Title != "" {
		return info.Title, nil
	}
	return info.Username, nil
}

// LookupGuild resolves the group title; groups are their own guild.
func (a *Adapter) LookupGuild(ctx context.Context, guildID string) (string, error) {
	return a.LookupChannel(ctx, guildID)
}
