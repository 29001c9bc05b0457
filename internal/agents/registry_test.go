package agents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nekocord/nekocord/internal/config"
	"github.com/nekocord/nekocord/pkg/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg, err := config.Parse([]byte(`
default_agent: neko
agents:
  - name: neko
    mock: true
    wake_words: ["meow", "Cat"]
    wake_by_name: true
  - name: spicy
    mock: true
    nsfw_only: true
    wake_by_name: true
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	r, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestResolveAndDefault(t *testing.T) {
	r := testRegistry(t)

	if _, ok := r.Resolve("ghost"); ok {
		t.Error("Resolve(ghost) should fail")
	}
	p, ok := r.Resolve("neko")
	if !ok || p.Name != "neko" {
		t.Errorf("Resolve(neko) = %+v, %v", p, ok)
	}
	if r.Default().Name != "neko" {
		t.Errorf("Default() = %q", r.Default().Name)
	}
	if got := r.Names(); len(got) != 2 || got[0] != "neko" || got[1] != "spicy" {
		t.Errorf("Names() = %v, want configuration order", got)
	}
}

func TestMatches(t *testing.T) {
	r := testRegistry(t)

	tests := []struct {
		content string
		want    []string
	}{
		{"just chatting", nil},
		{"MEOW there", []string{"neko"}},
		{"my cAt is cute", []string{"neko"}},
		{"hey Neko and SPICY", []string{"neko", "spicy"}},
		{"spicy take", []string{"spicy"}},
	}
	for _, tt := range tests {
		got := r.Matches(tt.content)
		var names []string
		for _, p := range got {
			names = append(names, p.Name)
		}
		if strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Matches(%q) = %v, want %v", tt.content, names, tt.want)
		}
	}
}

type stubSurface struct {
	allowed bool
	err     error
}

func (s stubSurface) AllowsRestricted(ctx context.Context, channelID string) (bool, error) {
	return s.allowed, s.err
}

func TestCanUse(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	open, _ := r.Resolve("neko")
	restricted, _ := r.Resolve("spicy")

	guild := models.Conversation{Platform: "test", ID: "c1", GuildID: "g1"}
	direct := models.Conversation{Platform: "test", ID: "dm1"}

	tests := []struct {
		name    string
		conv    models.Conversation
		profile *Profile
		surface Surface
		want    bool
	}{
		{"unrestricted anywhere", guild, open, nil, true},
		{"restricted in DM", direct, restricted, nil, true},
		{"restricted without surface", guild, restricted, nil, false},
		{"restricted on flagged channel", guild, restricted, stubSurface{allowed: true}, true},
		{"restricted on plain channel", guild, restricted, stubSurface{allowed: false}, false},
		{"surface lookup error", guild, restricted, stubSurface{err: errors.New("api down")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.CanUse(ctx, tt.conv, tt.profile, tt.surface); got != tt.want {
				t.Errorf("CanUse = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfileRequestPrependsPreamble(t *testing.T) {
	p := &Profile{
		Model: "test-model",
		SystemPrompt: []models.Turn{
			{Role: models.RoleSystem, Content: "be a cat"},
		},
	}
	req := p.Request([]models.Turn{{Role: models.RoleUser, Content: "alice:hi"}})
	if len(req.Turns) != 2 {
		t.Fatalf("prompt has %d turns, want 2", len(req.Turns))
	}
	if req.Turns[0].Role != models.RoleSystem || req.Turns[1].Content != "alice:hi" {
		t.Errorf("prompt order wrong: %+v", req.Turns)
	}
}

func TestFetchBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"balance":42}`))
	}))
	defer srv.Close()

	p := &Profile{BalanceURL: srv.URL, BalanceToken: "tok"}
	got, err := FetchBalance(context.Background(), srv.Client(), p)
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}
	if !strings.Contains(got, `"balance": 42`) {
		t.Errorf("balance not pretty-printed: %q", got)
	}

	_, err = FetchBalance(context.Background(), nil, &Profile{})
	if !errors.Is(err, ErrBalanceNotConfigured) {
		t.Errorf("expected ErrBalanceNotConfigured, got %v", err)
	}
}
