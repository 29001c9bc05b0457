package discord

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/nekocord/nekocord/internal/agents"
	"github.com/nekocord/nekocord/internal/chat"
	"github.com/nekocord/nekocord/internal/commands"
	"github.com/nekocord/nekocord/internal/config"
	"github.com/nekocord/nekocord/internal/identity"
	"github.com/nekocord/nekocord/internal/providers"
	"github.com/nekocord/nekocord/internal/store"
	"github.com/nekocord/nekocord/internal/text"
	"github.com/nekocord/nekocord/internal/wakeup"
)

type mockSession struct {
	mu      sync.Mutex
	sends   []string
	edits   []string
	lastRef *discordgo.MessageReference
	typing  int
	nsfw    bool
}

func (s *mockSession) Open() error  { return nil }
func (s *mockSession) Close() error { return nil }
func (s *mockSession) AddHandler(handler interface{}) func() {
	return func() {}
}

func (s *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, data.Content)
	s.lastRef = data.Reference
	return &discordgo.Message{ID: "p1", ChannelID: channelID}, nil
}

func (s *mockSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, content)
	return &discordgo.Message{ID: "p1", ChannelID: channelID}, nil
}

func (s *mockSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, content)
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (s *mockSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing++
	return nil
}

func (s *mockSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID, Name: "general", NSFW: s.nsfw}, nil
}

func (s *mockSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return &discordgo.User{ID: userID, Username: "alice"}, nil
}

func (s *mockSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return &discordgo.Guild{ID: guildID, Name: "club"}, nil
}

func (s *mockSession) lastEdit() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.edits) == 0 {
		return ""
	}
	return s.edits[len(s.edits)-1]
}

type scriptedProvider struct {
	tokens []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, _ *providers.Request) (<-chan providers.Chunk, error) {
	out := make(chan providers.Chunk)
	go func() {
		defer close(out)
		for _, tok := range p.tokens {
			select {
			case out <- providers.Chunk{Text: tok}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- providers.Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func testAdapter(t *testing.T, session *mockSession) *Adapter {
	t.Helper()
	cfg, err := config.Parse([]byte(`
default_agent: neko
agents:
  - name: neko
    mock: true
    wake_words: ["meow"]
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	reg, err := agents.NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	profile, _ := reg.Resolve("neko")
	profile.Provider = &scriptedProvider{tokens: []string{"Hello", " ", "world", "!"}}

	catalog, err := text.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	names := identity.NewResolver(identity.NewMux(), "private", nil)
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"), "neko", names, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pipeline := chat.New(st, reg, names, catalog, nil)
	router := wakeup.New(reg, st, nil)
	dispatcher := commands.New("!", pipeline, catalog, nil)

	a, err := NewAdapter(Config{Token: "t", RateLimit: 1000, RateBurst: 100}, pipeline, router, dispatcher, catalog)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	a.session = session
	a.selfID = "self"
	return a
}

func directMessage(content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "msg1",
		ChannelID: "dm1",
		Content:   content,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}
}

func TestRespondStreamsIntoPlaceholder(t *testing.T) {
	session := &mockSession{}
	a := testAdapter(t, session)

	msg := a.convertMessage(directMessage("hi there"), "self")
	a.handle(context.Background(), msg)

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.sends) != 1 || session.sends[0] != "Thinking..." {
		t.Fatalf("placeholder sends = %v", session.sends)
	}
	if session.lastRef == nil || session.lastRef.MessageID != "msg1" {
		t.Errorf("placeholder does not quote the trigger: %+v", session.lastRef)
	}
	if session.typing != 1 {
		t.Errorf("typing indicator sent %d times, want 1", session.typing)
	}
	if len(session.edits) == 0 || session.edits[len(session.edits)-1] != "Hello world!" {
		t.Errorf("edits = %v, want final Hello world!", session.edits)
	}
}

func TestHandleCommandReply(t *testing.T) {
	session := &mockSession{}
	a := testAdapter(t, session)

	msg := a.convertMessage(directMessage("!list-agents"), "self")
	a.handle(context.Background(), msg)

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.sends) != 1 || !strings.Contains(session.sends[0], "- neko") {
		t.Errorf("command reply = %v", session.sends)
	}
	if len(session.edits) != 0 {
		t.Errorf("command reply should not edit: %v", session.edits)
	}
}

func TestGuildChatterIgnoredWithoutWake(t *testing.T) {
	session := &mockSession{}
	a := testAdapter(t, session)

	m := directMessage("hello all")
	m.GuildID = "g1"
	a.handle(context.Background(), a.convertMessage(m, "self"))

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.sends) != 0 {
		t.Errorf("unexpected response to plain guild chatter: %v", session.sends)
	}
}

func TestConvertMessageAndMentions(t *testing.T) {
	a := testAdapter(t, &mockSession{})

	m := &discordgo.Message{
		ID:        "msg2",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "<@self> meet <@!u2> please",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
		Member:    &discordgo.Member{Nick: "Ali"},
		Mentions: []*discordgo.User{
			{ID: "self", Username: "bot"},
			{ID: "u2", Username: "bob", GlobalName: "Bobby"},
		},
	}
	msg := a.convertMessage(m, "self")

	if !msg.MentionsSelf {
		t.Error("self mention not detected")
	}
	if msg.UserNick != "Ali" || msg.UserName != "alice" {
		t.Errorf("names = %q / %q", msg.UserNick, msg.UserName)
	}
	if msg.Content != "meet @Bobby please" {
		t.Errorf("stripped content = %q", msg.Content)
	}
	if msg.Conversation.Platform != Platform || msg.Conversation.GuildID != "g1" {
		t.Errorf("conversation = %+v", msg.Conversation)
	}
}

func TestAllowsRestricted(t *testing.T) {
	a := testAdapter(t, &mockSession{nsfw: true})
	allowed, err := a.AllowsRestricted(context.Background(), "c1")
	if err != nil || !allowed {
		t.Errorf("AllowsRestricted = %v, %v", allowed, err)
	}
}
