package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcherRequiresCallbacks(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{OnChange: func(*Config) {}})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Loader: NewLoader("x.json")})
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "steward.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`", "agent": {"side_effects_disabled": false}}`), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{
		Loader:   NewLoader(configPath),
		OnChange: func(cfg *Config) { changes <- cfg },
		Debounce: 20 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })

	require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`", "agent": {"side_effects_disabled": true}}`), 0644))

	select {
	case cfg := <-changes:
		assert.True(t, cfg.Agent.SideEffectsDisabled)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "steward.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`"}`), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{
		Loader:   NewLoader(configPath),
		OnChange: func(cfg *Config) { changes <- cfg },
		Debounce: 20 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })

	require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`", "logging": {"level": "loud"}}`), 0644))
	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "other.json"), []byte(`{}`), 0644))

	select {
	case <-changes:
		t.Fatal("invalid config must not be applied")
	case <-time.After(300 * time.Millisecond):
	}
}
