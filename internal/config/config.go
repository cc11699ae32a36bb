package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/harun/steward/pkg/agent"
	"github.com/harun/steward/pkg/models"
)

// Config represents the main steward configuration
type Config struct {
	// Agent loop settings, hot-reloadable
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Chat provider
	Slack SlackConfig `json:"slack" mapstructure:"slack"`

	// Memory facts injected into planning
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Schedule for refreshing the pending approvals gauge (cron spec)
	PendingGaugeSchedule string `json:"pending_gauge_schedule" mapstructure:"pending_gauge_schedule"`
}

// AgentConfig holds the orchestrator options
type AgentConfig struct {
	MaxSteps             int    `json:"max_steps" mapstructure:"max_steps"`
	SideEffectsDisabled  bool   `json:"side_effects_disabled" mapstructure:"side_effects_disabled"`
	DefaultTrust         string `json:"default_trust" mapstructure:"default_trust"` // supervised, delegated, autonomous
	HistoryWindow        int    `json:"history_window" mapstructure:"history_window"`
	MaxContextItems      int    `json:"max_context_items" mapstructure:"max_context_items"`
	MaxContextFieldChars int    `json:"max_context_field_chars" mapstructure:"max_context_field_chars"`
	ToolResultMaxChars   int    `json:"tool_result_max_chars" mapstructure:"tool_result_max_chars"`
	Model                string `json:"model" mapstructure:"model"`
	Persona              string `json:"persona" mapstructure:"persona"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// SlackConfig holds the Slack bot used by chat_post_message
type SlackConfig struct {
	BotToken string `json:"bot_token" mapstructure:"bot_token"`
}

// MemoryConfig bounds the memory block
type MemoryConfig struct {
	MaxFacts int `json:"max_facts" mapstructure:"max_facts"`
	MaxChars int `json:"max_chars" mapstructure:"max_chars"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port           int      `json:"port" mapstructure:"port"`
	Host           string   `json:"host" mapstructure:"host"`
	JWTSecret      string   `json:"jwt_secret" mapstructure:"jwt_secret"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	RunTimeout     int      `json:"run_timeout" mapstructure:"run_timeout"` // seconds
}

// TracingConfig toggles the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	opts := agent.DefaultOptions()
	return &Config{
		Agent: AgentConfig{
			MaxSteps:             opts.MaxSteps,
			DefaultTrust:         string(models.TrustSupervised),
			HistoryWindow:        opts.HistoryWindow,
			MaxContextItems:      opts.MaxContextItems,
			MaxContextFieldChars: opts.MaxContextFieldChars,
			ToolResultMaxChars:   opts.ToolResultMaxChars,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Memory: MemoryConfig{
			MaxFacts: 20,
			MaxChars: 2000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port:       8080,
			Host:       "127.0.0.1",
			RunTimeout: 120,
		},
		Tracing: TracingConfig{
			ServiceName: "steward",
		},
		PendingGaugeSchedule: "@every 30s",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// DatabasePath returns the SQLite file inside the data directory
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "steward.db")
}

// PrimaryProfile returns the AI profile with the highest priority.
func (c *Config) PrimaryProfile() (AIProfile, bool) {
	if len(c.AI.Profiles) == 0 {
		return AIProfile{}, false
	}
	best := c.AI.Profiles[0]
	for _, p := range c.AI.Profiles[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, true
}

// AgentOptions converts the agent section into orchestrator options.
func (c *Config) AgentOptions() agent.Options {
	opts := agent.DefaultOptions()
	opts.MaxSteps = agent.ClampSteps(c.Agent.MaxSteps)
	opts.SideEffectsDisabled = c.Agent.SideEffectsDisabled
	if c.Agent.HistoryWindow > 0 {
		opts.HistoryWindow = c.Agent.HistoryWindow
	}
	if c.Agent.MaxContextItems > 0 {
		opts.MaxContextItems = c.Agent.MaxContextItems
	}
	if c.Agent.MaxContextFieldChars > 0 {
		opts.MaxContextFieldChars = c.Agent.MaxContextFieldChars
	}
	if c.Agent.ToolResultMaxChars > 0 {
		opts.ToolResultMaxChars = c.Agent.ToolResultMaxChars
	}
	if c.Agent.Model != "" {
		opts.Model = c.Agent.Model
	}
	if c.Agent.Persona != "" {
		opts.Persona = c.Agent.Persona
	}
	return opts
}

// DefaultTrust parses the configured default trust level
func (c *Config) DefaultTrust() models.TrustLevel {
	level, ok := models.ParseTrustLevel(c.Agent.DefaultTrust)
	if !ok {
		return models.TrustSupervised
	}
	return level
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Agent.DefaultTrust != "" {
		if _, ok := models.ParseTrustLevel(c.Agent.DefaultTrust); !ok {
			return fmt.Errorf("agent: invalid default_trust %q", c.Agent.DefaultTrust)
		}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway: invalid port %d", c.Gateway.Port)
	}
	if c.Gateway.JWTSecret == "" {
		return fmt.Errorf("gateway: jwt_secret is required")
	}

	return nil
}
