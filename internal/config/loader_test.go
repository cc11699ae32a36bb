package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "supervised", cfg.Agent.DefaultTrust)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + tmpDir + `",
			"agent": {
				"max_steps": 4,
				"side_effects_disabled": true,
				"default_trust": "delegated"
			},
			"ai": {"profiles": [{"id": "main", "provider": "anthropic", "api_key": "sk-ant-abc"}]},
			"gateway": {"port": 9090, "jwt_secret": "s3cret"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Agent.MaxSteps)
		assert.True(t, cfg.Agent.SideEffectsDisabled)
		assert.Equal(t, "delegated", cfg.Agent.DefaultTrust)
		// Keys missing from the file keep their defaults.
		assert.Equal(t, 30, cfg.Agent.HistoryWindow)
		assert.Equal(t, 9090, cfg.Gateway.Port)
		assert.Equal(t, "s3cret", cfg.Gateway.JWTSecret)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "sk-ant-abc", cfg.AI.Profiles[0].APIKey)
		assert.Equal(t, filepath.Join(tmpDir, "audit.log"), cfg.Logging.AuditFile)
		assert.Equal(t, filepath.Join(tmpDir, "steward.db"), cfg.DatabasePath())
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"agent": {"max_steps": 4}}`), 0644))

		t.Setenv("STEWARD_AGENT_MAX_STEPS", "12")
		t.Setenv("STEWARD_AGENT_SIDE_EFFECTS_DISABLED", "true")
		t.Setenv("STEWARD_GATEWAY_JWT_SECRET", "from-env")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 12, cfg.Agent.MaxSteps)
		assert.True(t, cfg.Agent.SideEffectsDisabled)
		assert.Equal(t, "from-env", cfg.Gateway.JWTSecret)
	})

	t.Run("provider keys from dotenv", func(t *testing.T) {
		tmpDir := t.TempDir()
		envPath := filepath.Join(tmpDir, ".env")
		require.NoError(t, os.WriteFile(envPath, []byte("OPENAI_API_KEY=sk-from-dotenv\n"), 0644))
		t.Setenv("OPENAI_API_KEY", "")
		os.Unsetenv("OPENAI_API_KEY")

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json"), envPath).Load()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "openai", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, "sk-from-dotenv", cfg.AI.Profiles[0].APIKey)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "steward.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Agent.MaxSteps = 3
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Agent.MaxSteps)
}
