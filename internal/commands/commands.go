// Package commands parses and executes prefixed chat commands. Everything
// the dispatcher produces is plain reply text; the one exception is the
// chat command, which hands its prompt back to the caller for the
// streaming generation path.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nekocord/nekocord/internal/agents"
	"github.com/nekocord/nekocord/internal/chat"
	"github.com/nekocord/nekocord/internal/text"
	"github.com/nekocord/nekocord/pkg/models"
)

// Result is the outcome of dispatching one message.
type Result struct {
	// Handled is false when the message is not a command at all.
	Handled bool
	// Reply is the immediate reply text, empty when none is due.
	Reply string
	// Prompt, when non-empty, must be routed through the streaming
	// generation path instead of replied to directly.
	Prompt string
}

// Dispatcher routes prefixed commands.
type Dispatcher struct {
	prefix   string
	pipeline *chat.Pipeline
	catalog  *text.Catalog
	client   *http.Client
	log      *slog.Logger
}

// New creates a dispatcher. prefix is the command sigil, e.g. "!".
func New(prefix string, pipeline *chat.Pipeline, catalog *text.Catalog, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		prefix:   prefix,
		pipeline: pipeline,
		catalog:  catalog,
		client:   &http.Client{},
		log:      logger.With("component", "commands"),
	}
}

// Parse splits content into a command name and its argument string. ok is
// false when content does not carry the command prefix.
func (d *Dispatcher) Parse(content string) (cmd, args string, ok bool) {
	trimmed := strings.TrimSpace(content)
	if d.prefix == "" || !strings.HasPrefix(trimmed, d.prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(trimmed, d.prefix)
	if rest == "" {
		return "", "", false
	}
	cmd, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(cmd), strings.TrimSpace(args), true
}

// Execute parses and runs the command carried by the message, if any.
// surface is the platform's restricted-content gate for agent switching.
func (d *Dispatcher) Execute(ctx context.Context, m *models.Message, surface agents.Surface) Result {
	cmd, args, ok := d.Parse(m.Content)
	if !ok {
		return Result{}
	}
	d.log.Debug("command received", "command", cmd, "conversation_id", m.Conversation.ID)

	switch cmd {
	case "chat":
		if args == "" {
			return Result{Handled: true}
		}
		return Result{Handled: true, Prompt: args}
	case "show-context":
		return Result{Handled: true, Reply: d.showContext(ctx, m)}
	case "clear-context":
		return Result{Handled: true, Reply: d.clearContext(ctx, m)}
	case "list-agents":
		return Result{Handled: true, Reply: d.listAgents(ctx, m)}
	case "use-agent":
		return Result{Handled: true, Reply: d.useAgent(ctx, m, args, surface)}
	case "balance":
		return Result{Handled: true, Reply: d.balance(ctx, m)}
	default:
		return Result{Handled: true, Reply: d.catalog.Lookup("unknown-command", cmd)}
	}
}

func (d *Dispatcher) showContext(ctx context.Context, m *models.Message) string {
	turns, err := d.pipeline.Context(ctx, m)
	if err != nil {
		d.log.Error("context read failed", "error", err)
		return d.catalog.Lookup("not-responding")
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	encoded, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		d.log.Error("context encode failed", "error", err)
		return d.catalog.Lookup("not-responding")
	}
	return fmt.Sprintf("%s\n```json\n%s\n```", d.catalog.Lookup("context-is"), encoded)
}

func (d *Dispatcher) clearContext(ctx context.Context, m *models.Message) string {
	if err := d.pipeline.ClearContext(ctx, m); err != nil {
		d.log.Error("context clear failed", "error", err)
		return d.catalog.Lookup("not-responding")
	}
	return d.catalog.Lookup("context-cleared")
}

func (d *Dispatcher) listAgents(ctx context.Context, m *models.Message) string {
	infos, err := d.pipeline.AgentList(ctx, m)
	if err != nil {
		d.log.Error("agent list failed", "error", err)
		return d.catalog.Lookup("not-responding")
	}
	var sb strings.Builder
	sb.WriteString(d.catalog.Lookup("agents-are"))
	for _, info := range infos {
		sb.WriteString("\n- ")
		sb.WriteString(info.Name)
		if info.Restricted {
			sb.WriteString(" (NSFW)")
		}
		if info.Active {
			sb.WriteString(" *")
		}
	}
	return sb.String()
}

func (d *Dispatcher) useAgent(ctx context.Context, m *models.Message, name string, surface agents.Surface) string {
	err := d.pipeline.SetActiveAgent(ctx, m, name, surface)
	switch {
	case errors.Is(err, agents.ErrNotFound):
		return d.catalog.Lookup("agent-not-found", name)
	case errors.Is(err, agents.ErrAccessDenied):
		return d.catalog.Lookup("access-denied", name)
	case err != nil:
		d.log.Error("agent switch failed", "agent", name, "error", err)
		return d.catalog.Lookup("not-responding")
	}
	return d.catalog.Lookup("agent-set", name)
}

func (d *Dispatcher) balance(ctx context.Context, m *models.Message) string {
	profile, err := d.pipeline.ActiveProfile(ctx, m)
	if err != nil {
		d.log.Error("profile resolve failed", "error", err)
		return d.catalog.Lookup("not-responding")
	}
	body, err := agents.FetchBalance(ctx, d.client, profile)
	switch {
	case errors.Is(err, agents.ErrBalanceNotConfigured):
		return d.catalog.Lookup("balance-not-configured", profile.Name)
	case err != nil:
		d.log.Warn("balance query failed", "agent", profile.Name, "error", err)
		return d.catalog.Lookup("balance-failed", profile.Name)
	}
	return fmt.Sprintf("%s\n```json\n%s\n```", d.catalog.Lookup("balance-is", profile.Name), body)
}
