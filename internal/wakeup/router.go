// Package wakeup decides whether an inbound message should trigger a
// generation, and switches the conversation's agent when a different
// agent's wake words match.
package wakeup

import (
	"context"
	"log/slog"

	"github.com/nekocord/nekocord/internal/agents"
	"github.com/nekocord/nekocord/internal/store"
	"github.com/nekocord/nekocord/pkg/models"
)

// Router evaluates wake conditions against the agent registry and the
// conversation's stored agent binding.
type Router struct {
	registry *agents.Registry
	store    *store.Store
	log      *slog.Logger
}

// New creates a router.
func New(registry *agents.Registry, s *store.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, store: s, log: logger.With("component", "wakeup")}
}

// ShouldRespond reports whether the message triggers a generation. Own
// messages never trigger. When wake words match the already-active agent,
// the message triggers with no binding change. When only other agents
// match, the first match in configuration order is adopted if its surface
// gate allows; a gate refusal suppresses the response entirely rather than
// answering with the wrong agent. Without any wake-word match, direct
// messages and explicit mentions trigger the active agent.
func (r *Router) ShouldRespond(ctx context.Context, m *models.Message, surface agents.Surface) (bool, error) {
	if m.FromSelf {
		return false, nil
	}

	matches := r.registry.Matches(m.Content)
	if len(matches) == 0 {
		return m.Conversation.IsDirect() || m.MentionsSelf, nil
	}

	active, err := r.store.AgentName(ctx, m)
	if err != nil {
		return false, err
	}
	for _, p := range matches {
		if p.Name == active {
			return true, nil
		}
	}

	candidate := matches[0]
	if !r.registry.CanUse(ctx, m.Conversation, candidate, surface) {
		r.log.Debug("wake suppressed, agent not usable here",
			"conversation_id", m.Conversation.ID, "agent", candidate.Name)
		return false, nil
	}
	if err := r.store.SetAgentName(ctx, m, candidate.Name); err != nil {
		return false, err
	}
	r.log.Info("agent switched by wake word",
		"conversation_id", m.Conversation.ID, "from", active, "to", candidate.Name)
	return true, nil
}
