// Package main provides the CLI entry point for the nekocord chat bot.
//
// nekocord connects chat platforms (Discord, Telegram) to LLM providers
// (OpenAI-compatible endpoints, Anthropic) and streams replies into a
// single continuously edited message.
//
// # Basic Usage
//
// Start the bot:
//
//	nekocord serve --config nekocord.yaml
//
// Validate a configuration file without starting:
//
//	nekocord check --config nekocord.yaml
//
// # Environment Variables
//
// Configuration values support ${VAR} expansion, so secrets can be kept
// out of the file:
//
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: provider credentials
//   - DISCORD_BOT_TOKEN: Discord bot token
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nekocord/nekocord/internal/agents"
	"github.com/nekocord/nekocord/internal/channels/discord"
	"github.com/nekocord/nekocord/internal/channels/telegram"
	"github.com/nekocord/nekocord/internal/chat"
	"github.com/nekocord/nekocord/internal/commands"
	"github.com/nekocord/nekocord/internal/config"
	"github.com/nekocord/nekocord/internal/identity"
	"github.com/nekocord/nekocord/internal/store"
	"github.com/nekocord/nekocord/internal/text"
	"github.com/nekocord/nekocord/internal/wakeup"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "nekocord",
		Short:        "nekocord - Streaming chat bot for Discord and Telegram",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildCheckCmd(),
	)
	return rootCmd
}

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the nekocord bot",
		Long: `Start the bot with all configured channels and agents.

The bot will:
1. Load configuration from the specified file
2. Open the conversation store
3. Build the agent registry and provider clients
4. Start all enabled channel adapters (Discord, Telegram)

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nekocord.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildCheckCmd creates the "check" command that validates configuration.
func buildCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d agents, default %q\n",
				len(cfg.Agents), cfg.DefaultAgent)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nekocord.yaml",
		"Path to YAML configuration file")
	return cmd
}

// runServe implements the serve command logic.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := parseLevel(cfg.Logging.Level)
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("starting nekocord",
		"version", version,
		"commit", commit,
		"config", configPath,
		"agents", len(cfg.Agents),
	)

	catalog, err := text.NewCatalog(cfg.Locale)
	if err != nil {
		return fmt.Errorf("failed to load locale catalog: %w", err)
	}

	mux := identity.NewMux()
	names := identity.NewResolver(mux, catalog.Lookup("private-chat"), logger)

	st, err := store.Open(cfg.Store.Path, cfg.DefaultAgent, names, logger)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer st.Close()

	registry, err := agents.NewRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build agent registry: %w", err)
	}

	pipeline := chat.New(st, registry, names, catalog, logger)
	router := wakeup.New(registry, st, logger)
	dispatcher := commands.New(cfg.CommandPrefix, pipeline, catalog, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	type stoppable interface {
		Stop(ctx context.Context) error
	}
	var started []stoppable

	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{
			Token:     cfg.Channels.Discord.Token,
			RateLimit: cfg.Channels.Discord.RateLimit,
			RateBurst: cfg.Channels.Discord.RateBurst,
			Logger:    logger,
		}, pipeline, router, dispatcher, catalog)
		if err != nil {
			return fmt.Errorf("failed to create discord adapter: %w", err)
		}
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("failed to start discord adapter: %w", err)
		}
		mux.Register(discord.Platform, adapter)
		started = append(started, adapter)
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:  cfg.Channels.Telegram.Token,
			Logger: logger,
		}, pipeline, router, dispatcher)
		if err != nil {
			return fmt.Errorf("failed to create telegram adapter: %w", err)
		}
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("failed to start telegram adapter: %w", err)
		}
		mux.Register(telegram.Platform, adapter)
		started = append(started, adapter)
	}

	if len(started) == 0 {
		return fmt.Errorf("no channels enabled; enable discord or telegram in %s", configPath)
	}

	slog.Info("nekocord started", "channels", len(started))

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(shutdownCtx); err != nil {
			slog.Error("adapter shutdown failed", "error", err)
		}
	}

	slog.Info("nekocord stopped")
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
