// Package agents holds the static registry of generation agents. The set
// is closed once the process starts; conversations switch between agents
// but agents are never added or removed at runtime.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nekocord/nekocord/internal/config"
	"github.com/nekocord/nekocord/internal/providers"
	"github.com/nekocord/nekocord/pkg/models"
)

// ErrNotFound is returned when an agent name is not registered.
var ErrNotFound = errors.New("agent not found")

// ErrAccessDenied is returned when a restricted agent is requested on a
// surface that does not permit restricted content.
var ErrAccessDenied = errors.New("agent access denied")

// Surface reports whether a channel permits restricted content. A platform
// without the concept returns false for guild channels; direct messages are
// never asked.
type Surface interface {
	AllowsRestricted(ctx context.Context, channelID string) (bool, error)
}

// Profile is one agent's immutable generation configuration plus its
// upstream client handle.
type Profile struct {
	Name     string
	Provider providers.Provider
	Model    string

	Temperature      float32
	TopP             float32
	MaxTokens        int
	FrequencyPenalty float32
	PresencePenalty  float32

	MaxPromptLength int
	MaxContextSize  int
	FitContextSize  int

	WakeWords  []string
	WakeByName bool
	NSFWOnly   bool

	MaxEditRetries int

	BalanceURL   string
	BalanceToken string

	// SystemPrompt is prepended to every upstream request and excluded
	// from window accounting.
	SystemPrompt []models.Turn
}

// Request builds the upstream request for this profile over the given
// prompt turns.
func (p *Profile) Request(turns []models.Turn) *providers.Request {
	prompt := make([]models.Turn, 0, len(p.SystemPrompt)+len(turns))
	prompt = append(prompt, p.SystemPrompt...)
	prompt = append(prompt, turns...)
	return &providers.Request{
		Model:            p.Model,
		Turns:            prompt,
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		MaxTokens:        p.MaxTokens,
		FrequencyPenalty: p.FrequencyPenalty,
		PresencePenalty:  p.PresencePenalty,
	}
}

// Registry maps agent names to profiles.
type Registry struct {
	order       []string
	profiles    map[string]*Profile
	defaultName string
	log         *slog.Logger
}

// NewRegistry builds profiles and upstream clients from configuration.
func NewRegistry(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		profiles:    make(map[string]*Profile, len(cfg.Agents)),
		defaultName: cfg.DefaultAgent,
		log:         logger.With("component", "agents"),
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		provider, err := buildProvider(a)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		r.order = append(r.order, a.Name)
		r.profiles[a.Name] = &Profile{
			Name:             a.Name,
			Provider:         provider,
			Model:            a.Model,
			Temperature:      a.Temperature,
			TopP:             a.TopP,
			MaxTokens:        a.MaxTokens,
			FrequencyPenalty: a.FrequencyPenalty,
			PresencePenalty:  a.PresencePenalty,
			MaxPromptLength:  a.MaxPromptLength,
			MaxContextSize:   a.MaxContextSize,
			FitContextSize:   a.FitContextSize,
			WakeWords:        a.WakeWords,
			WakeByName:       a.WakeByName,
			NSFWOnly:         a.NSFWOnly,
			MaxEditRetries:   a.MaxEditRetries,
			BalanceURL:       a.BalanceURL,
			BalanceToken:     a.BalanceToken,
			SystemPrompt:     a.SystemPrompt,
		}
		r.log.Debug("agent registered", "name", a.Name, "provider", provider.Name())
	}
	return r, nil
}

func buildProvider(a *config.AgentConfig) (providers.Provider, error) {
	switch a.Provider {
	case config.ProviderMock:
		return &providers.MockProvider{Delay: 100 * time.Millisecond}, nil
	case config.ProviderOpenAI:
		return providers.NewOpenAIProvider(a.APIKey, a.BaseURL), nil
	case config.ProviderAnthropic:
		return providers.NewAnthropicProvider(a.APIKey, a.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", a.Provider)
	}
}

// Resolve looks up an agent by name.
func (r *Registry) Resolve(name string) (*Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// Default returns the default agent's profile.
func (r *Registry) Default() *Profile {
	return r.profiles[r.defaultName]
}

// Names returns the agent names in configuration order.
func (r *Registry) Names() []string {
	return r.order
}

// CanUse reports whether the profile may be used on the conversation's
// surface. Unrestricted agents and direct messages are always permitted;
// restricted agents in group contexts require the surface to flag the
// channel as permitting restricted content.
func (r *Registry) CanUse(ctx context.Context, conv models.Conversation, p *Profile, surface Surface) bool {
	if !p.NSFWOnly {
		return true
	}
	if conv.IsDirect() {
		return true
	}
	if surface == nil {
		return false
	}
	allowed, err := surface.AllowsRestricted(ctx, conv.ID)
	if err != nil {
		r.log.Warn("restricted-surface check failed", "conversation_id", conv.ID, "error", err)
		return false
	}
	return allowed
}

// Matches returns the profiles whose wake words appear in content
// (case-insensitive substring), or whose name appears when wake-by-name is
// enabled, in configuration order.
func (r *Registry) Matches(content string) []*Profile {
	lowered := strings.ToLower(content)
	var matched []*Profile
	for _, name := range r.order {
		p := r.profiles[name]
		if p.matches(lowered) {
			matched = append(matched, p)
		}
	}
	return matched
}

func (p *Profile) matches(loweredContent string) bool {
	for _, w := range p.WakeWords {
		if w != "" && strings.Contains(loweredContent, strings.ToLower(w)) {
			return true
		}
	}
	return p.WakeByName && strings.Contains(loweredContent, strings.ToLower(p.Name))
}
