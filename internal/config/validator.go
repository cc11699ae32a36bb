package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/steward/pkg/agent"
	"github.com/harun/steward/pkg/models"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateSlackToken validates a Slack bot token
func (v *Validator) ValidateSlackToken(token string) error {
	if token == "" {
		return nil // Slack is optional
	}
	if !strings.HasPrefix(token, "xoxb-") {
		return fmt.Errorf("invalid Slack bot token format (should start with xoxb-)")
	}
	return nil
}

// ValidateMaxSteps reports budgets that will be clamped
func (v *Validator) ValidateMaxSteps(steps int) error {
	if steps == 0 {
		return nil // Use default
	}
	if steps < agent.MinSteps || steps > agent.MaxSteps {
		return fmt.Errorf("agent.max_steps must be between %d and %d, got %d", agent.MinSteps, agent.MaxSteps, steps)
	}
	return nil
}

// ValidateTrustLevel validates a trust level name
func (v *Validator) ValidateTrustLevel(level string) error {
	if level == "" {
		return nil // Use default
	}
	if _, ok := models.ParseTrustLevel(level); !ok {
		return fmt.Errorf("invalid trust level: %s (must be one of: supervised, delegated, autonomous)", level)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a cron spec or descriptor such as "@every 30s"
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil // Disabled
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	if err := v.ValidateSlackToken(cfg.Slack.BotToken); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateMaxSteps(cfg.Agent.MaxSteps); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTrustLevel(cfg.Agent.DefaultTrust); err != nil {
		errors = append(errors, err)
	}
	if cfg.Agent.HistoryWindow < 0 {
		errors = append(errors, fmt.Errorf("agent.history_window must be >= 0"))
	}
	if cfg.Agent.MaxContextItems < 0 {
		errors = append(errors, fmt.Errorf("agent.max_context_items must be >= 0"))
	}
	if cfg.Agent.MaxContextFieldChars < 0 {
		errors = append(errors, fmt.Errorf("agent.max_context_field_chars must be >= 0"))
	}
	if cfg.Agent.ToolResultMaxChars < 0 {
		errors = append(errors, fmt.Errorf("agent.tool_result_max_chars must be >= 0"))
	}

	if cfg.Gateway.RunTimeout < 0 {
		errors = append(errors, fmt.Errorf("gateway.run_timeout must be >= 0"))
	}

	if err := v.ValidateSchedule(cfg.PendingGaugeSchedule); err != nil {
		errors = append(errors, err)
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
