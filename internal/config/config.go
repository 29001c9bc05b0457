// Package config loads and validates the nekocord YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nekocord/nekocord/pkg/models"
)

// Provider names accepted in AgentConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Config is the root configuration.
type Config struct {
	DefaultAgent  string         `yaml:"default_agent"`
	Locale        string         `yaml:"locale"`
	CommandPrefix string         `yaml:"command_prefix"`
	Store         StoreConfig    `yaml:"store"`
	Logging       LoggingConfig  `yaml:"logging"`
	Channels      ChannelsConfig `yaml:"channels"`
	Agents        []AgentConfig  `yaml:"agents"`
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `yaml:"path"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// ChannelsConfig configures the platform adapters.
type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// RateLimit is outbound API calls per second; RateBurst the burst size.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// AgentConfig describes one generation agent. The agent set is closed once
// the process starts.
type AgentConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`

	Temperature      float32 `yaml:"temperature"`
	TopP             float32 `yaml:"top_p"`
	MaxTokens        int     `yaml:"max_tokens"`
	FrequencyPenalty float32 `yaml:"frequency_penalty"`
	PresencePenalty  float32 `yaml:"presence_penalty"`

	MaxPromptLength int `yaml:"max_prompt_length"`
	// MaxContextSize counts exchanges (one user turn plus one assistant
	// turn); the turn window cap is twice this value.
	MaxContextSize int `yaml:"max_context_size"`
	// FitContextSize is the exchange count kept after a trim.
	FitContextSize int `yaml:"fit_context_size"`

	WakeWords  []string `yaml:"wake_words"`
	WakeByName bool     `yaml:"wake_by_name"`
	NSFWOnly   bool     `yaml:"nsfw_only"`
	Mock       bool     `yaml:"mock"`

	// MaxEditRetries bounds the final edit-convergence loop. Zero means
	// retry forever.
	MaxEditRetries int `yaml:"max_edit_retries"`

	BalanceURL   string `yaml:"balance_url"`
	BalanceToken string `yaml:"balance_token"`

	SystemPrompt []models.Turn `yaml:"system_prompt"`
}

// Load reads, env-expands, parses, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse parses and validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.Store.Path == "" {
		c.Store.Path = "nekocord.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		return fmt.Errorf("channels.discord.token is required when discord is enabled")
	}
	if c.Channels.Discord.RateLimit == 0 {
		c.Channels.Discord.RateLimit = 5
	}
	if c.Channels.Discord.RateBurst == 0 {
		c.Channels.Discord.RateBurst = 10
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("channels.telegram.token is required when telegram is enabled")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		a := &c.Agents[i]
		if err := a.validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, a.Name)
		}
		seen[a.Name] = true
	}
	if c.DefaultAgent == "" {
		return fmt.Errorf("default_agent is required")
	}
	if !seen[c.DefaultAgent] {
		return fmt.Errorf("default_agent %q is not a configured agent", c.DefaultAgent)
	}
	return nil
}

func (a *AgentConfig) validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if a.Mock && a.Provider == "" {
		a.Provider = ProviderMock
	}
	if a.Provider == "" {
		a.Provider = ProviderOpenAI
	}
	switch a.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock:
	default:
		return fmt.Errorf("provider %q is not one of openai, anthropic, mock", a.Provider)
	}
	if a.Provider != ProviderMock {
		if a.APIKey == "" {
			return fmt.Errorf("api_key is required for provider %s", a.Provider)
		}
		if a.Model == "" {
			return fmt.Errorf("model is required for provider %s", a.Provider)
		}
	}
	if a.Temperature == 0 {
		a.Temperature = 1
	}
	if a.TopP == 0 {
		a.TopP = 1
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = 4096
	}
	if a.MaxPromptLength == 0 {
		a.MaxPromptLength = 1000
	}
	if a.MaxContextSize == 0 {
		a.MaxContextSize = 20
	}
	if a.FitContextSize == 0 {
		a.FitContextSize = 10
	}
	if a.FitContextSize > a.MaxContextSize {
		return fmt.Errorf("fit_context_size %d exceeds max_context_size %d", a.FitContextSize, a.MaxContextSize)
	}
	if a.MaxEditRetries < 0 {
		return fmt.Errorf("max_edit_retries must not be negative")
	}
	for i, turn := range a.SystemPrompt {
		switch turn.Role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
		default:
			return fmt.Errorf("system_prompt[%d]: role %q is not one of system, user, assistant", i, turn.Role)
		}
	}
	return nil
}
