// Package chat orchestrates one streaming generation: serialize against
// other generations, validate and trim, append the user turn, stream the
// upstream completion re-chunked into flush-worthy fragments, then commit
// the assistant turn.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nekocord/nekocord/internal/agents"
	"github.com/nekocord/nekocord/internal/identity"
	"github.com/nekocord/nekocord/internal/store"
	"github.com/nekocord/nekocord/internal/text"
	"github.com/nekocord/nekocord/pkg/models"
)

// Fragment is an incremental piece of generated text. A Fragment with Err
// set is terminal.
type Fragment struct {
	Text string
	Err  error
}

// AgentInfo is one row of the agent listing.
type AgentInfo struct {
	Name       string
	Restricted bool
	Active     bool
}

// Pipeline owns the process-wide generation gate and wires the store, the
// registry, and identity resolution into the streaming state machine.
type Pipeline struct {
	store    *store.Store
	registry *agents.Registry
	names    *identity.Resolver
	catalog  *text.Catalog

	// gate serializes generations process-wide. A second caller arriving
	// mid-stream blocks until the first completes its final history append.
	gate sync.Mutex

	log *slog.Logger
}

// New creates a pipeline.
func New(s *store.Store, r *agents.Registry, names *identity.Resolver, catalog *text.Catalog, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    s,
		registry: r,
		names:    names,
		catalog:  catalog,
		log:      logger.With("component", "chat"),
	}
}

// ActiveProfile resolves the profile currently bound to the conversation,
// falling back to the default agent.
func (p *Pipeline) ActiveProfile(ctx context.Context, m *models.Message) (*agents.Profile, error) {
	name, err := p.store.AgentName(ctx, m)
	if err != nil {
		return nil, err
	}
	if profile, ok := p.registry.Resolve(name); ok {
		return profile, nil
	}
	return p.registry.Default(), nil
}

// Stream runs one generation and returns its lazy fragment sequence. The
// producing goroutine holds the generation gate from start until the final
// assistant append; every send honors ctx, so an abandoning consumer must
// cancel ctx to release the gate.
//
// Validation failures (unknown agent, prompt too long) are delivered as a
// single localized text fragment with no state mutated. Infrastructure
// failures arrive as a terminal Fragment.Err; a mid-stream upstream failure
// leaves the already-appended user turn in place.
func (p *Pipeline) Stream(ctx context.Context, m *models.Message) <-chan Fragment {
	out := make(chan Fragment)
	go func() {
		defer close(out)
		p.gate.Lock()
		defer p.gate.Unlock()
		p.run(ctx, m, out)
	}()
	return out
}

// Generate drains Stream and concatenates the fragments. Text produced
// before a failure is returned alongside the error.
func (p *Pipeline) Generate(ctx context.Context, m *models.Message) (string, error) {
	var sb strings.Builder
	for f := range p.Stream(ctx, m) {
		if f.Err != nil {
			return sb.String(), f.Err
		}
		sb.WriteString(f.Text)
	}
	return sb.String(), nil
}

func (p *Pipeline) run(ctx context.Context, m *models.Message, out chan<- Fragment) {
	emit := func(f Fragment) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Resolving.
	name, err := p.store.AgentName(ctx, m)
	if err != nil {
		emit(Fragment{Err: fmt.Errorf("resolve agent: %w", err)})
		return
	}
	profile, ok := p.registry.Resolve(name)
	if !ok {
		emit(Fragment{Text: p.catalog.Lookup("agent-not-found", name)})
		return
	}

	// Validating. Counted in characters, matching the configured limit's
	// user-facing meaning.
	if len([]rune(m.Content)) > profile.MaxPromptLength {
		emit(Fragment{Text: p.catalog.Lookup("prompt-too-long", profile.MaxPromptLength)})
		return
	}

	// Trimming, once, before the new user turn is appended.
	size, err := p.store.WindowSize(ctx, m)
	if err != nil {
		emit(Fragment{Err: fmt.Errorf("read window: %w", err)})
		return
	}
	if size > 2*profile.MaxContextSize {
		if err := p.store.SetWindowSize(ctx, m, 2*profile.FitContextSize); err != nil {
			emit(Fragment{Err: fmt.Errorf("trim window: %w", err)})
			return
		}
		p.log.Debug("context window trimmed",
			"conversation_id", m.Conversation.ID,
			"from", size,
			"to", 2*profile.FitContextSize)
	}

	// Appending the user turn.
	username := p.names.DisplayName(ctx, m)
	userTurn := models.Turn{
		Role:    models.RoleUser,
		Content: username + ":" + m.Content,
		Name:    username,
	}
	if err := p.store.PushHistory(ctx, m, userTurn); err != nil {
		emit(Fragment{Err: fmt.Errorf("append user turn: %w", err)})
		return
	}
	if _, err := p.store.IncrementWindowSize(ctx, m); err != nil {
		emit(Fragment{Err: fmt.Errorf("advance window: %w", err)})
		return
	}

	// Streaming. The prompt is read after the user-turn append so the new
	// turn is part of the context.
	contextTurns, err := p.store.Context(ctx, m)
	if err != nil {
		emit(Fragment{Err: fmt.Errorf("read context: %w", err)})
		return
	}
	chunks, err := profile.Provider.Stream(ctx, profile.Request(contextTurns))
	if err != nil {
		// The user turn stays; the skew is accepted and visible in history.
		emit(Fragment{Err: fmt.Errorf("upstream stream: %w", err)})
		return
	}

	// Re-chunk tokens into flush-worthy fragments: whitespace-only tokens
	// are held in the pending buffer rather than flushed alone.
	var full, pending strings.Builder
	for c := range chunks {
		if c.Err != nil {
			emit(Fragment{Err: fmt.Errorf("upstream stream: %w", c.Err)})
			return
		}
		if c.Done {
			break
		}
		pending.WriteString(c.Text)
		full.WriteString(c.Text)
		if strings.TrimSpace(c.Text) != "" {
			if !emit(Fragment{Text: pending.String()}) {
				return
			}
			pending.Reset()
		}
	}
	if pending.Len() > 0 {
		if !emit(Fragment{Text: pending.String()}) {
			return
		}
	}

	// Appending the assistant turn.
	assistantTurn := models.Turn{
		Role:    models.RoleAssistant,
		Content: full.String(),
		Name:    profile.Name,
	}
	if err := p.store.PushHistory(ctx, m, assistantTurn); err != nil {
		emit(Fragment{Err: fmt.Errorf("append assistant turn: %w", err)})
		return
	}
	if _, err := p.store.IncrementWindowSize(ctx, m); err != nil {
		emit(Fragment{Err: fmt.Errorf("advance window: %w", err)})
		return
	}

	p.log.Info("generation complete",
		"conversation_id", m.Conversation.ID,
		"agent", profile.Name,
		"response_length", full.Len())
}

// Context returns the conversation's active context window.
func (p *Pipeline) Context(ctx context.Context, m *models.Message) ([]models.Turn, error) {
	return p.store.Context(ctx, m)
}

// ClearContext resets the conversation's context window.
func (p *Pipeline) ClearContext(ctx context.Context, m *models.Message) error {
	return p.store.ClearContext(ctx, m)
}

// SetActiveAgent binds the named agent to the conversation. It returns
// agents.ErrNotFound for unknown names and agents.ErrAccessDenied when the
// restricted-content gate fails; in both cases the binding is unchanged.
func (p *Pipeline) SetActiveAgent(ctx context.Context, m *models.Message, name string, surface agents.Surface) error {
	profile, ok := p.registry.Resolve(name)
	if !ok {
		return agents.ErrNotFound
	}
	if !p.registry.CanUse(ctx, m.Conversation, profile, surface) {
		return agents.ErrAccessDenied
	}
	return p.store.SetAgentName(ctx, m, name)
}

// AgentList returns all registered agents with their restriction flag and
// whether each is the conversation's active agent.
func (p *Pipeline) AgentList(ctx context.Context, m *models.Message) ([]AgentInfo, error) {
	active, err := p.store.AgentName(ctx, m)
	if err != nil {
		return nil, err
	}
	var infos []AgentInfo
	for _, name := range p.registry.Names() {
		profile, _ := p.registry.Resolve(name)
		infos = append(infos, AgentInfo{
			Name:       name,
			Restricted: profile.NSFWOnly,
			Active:     name == active,
		})
	}
	return infos, nil
}
