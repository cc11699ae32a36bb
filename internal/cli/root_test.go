package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/steward/internal/config"
	"github.com/harun/steward/pkg/agent"
)

// setupConfig writes a config whose data directory is a temp dir and returns its path
func setupConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Gateway.JWTSecret = "cli-secret"
	cfg.Logging.Console = false
	cfg.Logging.AuditFile = filepath.Join(dir, "audit.log")

	path := filepath.Join(dir, "steward.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	resetBoolFlags(cmd)
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

// resetBoolFlags clears --help and --version left set by an earlier Execute
func resetBoolFlags(cmd *cobra.Command) {
	for _, name := range []string{"help", "version"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
	for _, sub := range cmd.Commands() {
		resetBoolFlags(sub)
	}
}

type stubPlanner struct {
	mu        sync.Mutex
	responses []*agent.PlanResponse
	calls     int
}

func (p *stubPlanner) Plan(_ context.Context, req agent.PlanRequest) (*agent.PlanResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	resp := *p.responses[i]
	if req.OnTextDelta != nil && resp.Text != "" {
		req.OnTextDelta(resp.Text)
	}
	return &resp, nil
}

func (p *stubPlanner) Provider() string { return "stub" }

func withPlanner(t *testing.T, responses ...*agent.PlanResponse) *stubPlanner {
	t.Helper()

	p := &stubPlanner{responses: responses}
	plannerOverride = p
	t.Cleanup(func() { plannerOverride = nil })
	return p
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "steward version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := execute(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Steward")
		assert.Contains(t, out, "approval")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
		require.NotNil(t, cmd.PersistentFlags().Lookup("user"))
	})

	t.Run("subcommands", func(t *testing.T) {
		var names []string
		for _, c := range GetRootCmd().Commands() {
			names = append(names, c.Name())
		}
		for _, want := range []string{"serve", "status", "stop", "run", "approvals", "trust", "token", "memory"} {
			assert.Contains(t, names, want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}
