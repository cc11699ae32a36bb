package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. STEWARD_AGENT_MAX_STEPS.
const EnvPrefix = "STEWARD"

// boundEnvKeys are the config keys that can be overridden from the environment
// even when absent from the file.
var boundEnvKeys = []string{
	"data_dir",
	"agent.max_steps",
	"agent.side_effects_disabled",
	"agent.default_trust",
	"agent.model",
	"gateway.port",
	"gateway.host",
	"gateway.jwt_secret",
	"slack.bot_token",
	"logging.level",
	"tracing.enabled",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFiles   []string
}

// NewLoader creates a new config loader. envFiles are loaded with godotenv before
// the environment is read; missing files are ignored.
func NewLoader(configPath string, envFiles ...string) *Loader {
	return &Loader{
		configPath: configPath,
		envFiles:   envFiles,
	}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	l.loadEnvFiles()

	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range boundEnvKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyProviderEnv(cfg)

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".steward")
	}

	if cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	return cfg, nil
}

func (l *Loader) loadEnvFiles() {
	for _, f := range l.envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Existing environment variables win over .env values.
		_ = godotenv.Load(f)
	}
}

// applyProviderEnv adds profiles from the conventional provider variables when the
// file configures none.
func applyProviderEnv(cfg *Config) {
	if len(cfg.AI.Profiles) > 0 {
		return
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{ID: "anthropic-env", Provider: "anthropic", APIKey: key, Priority: 2})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{ID: "openai-env", Provider: "openai", APIKey: key, Priority: 1})
	}
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".steward", "steward.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string, envFiles ...string) (*Config, error) {
	loader := NewLoader(configPath, envFiles...)
	return loader.Load()
}
