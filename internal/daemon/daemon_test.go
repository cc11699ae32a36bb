package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harun/steward/internal/config"
	"github.com/harun/steward/internal/logger"
	"github.com/harun/steward/pkg/agent"
)

type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) Plan(ctx context.Context, req agent.PlanRequest) (*agent.PlanResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*agent.PlanResponse)
	return resp, args.Error(1)
}

func (m *mockPlanner) Provider() string {
	return "mock"
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Logging.AuditFile = filepath.Join(tmpDir, "audit.log")
	cfg.Gateway.Port = 0
	cfg.Gateway.JWTSecret = "test-secret"
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

// createTestDaemon creates a daemon backed by a mock planner
func createTestDaemon(t *testing.T, planner agent.Planner) *Daemon {
	t.Helper()

	d, err := New(testConfig(t), testLogger(t), Options{Planner: planner})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestNew(t *testing.T) {
	d := createTestDaemon(t, &mockPlanner{})

	assert.NotNil(t, d.Store())
	assert.NotNil(t, d.Orchestrator())
	assert.NotNil(t, d.Gateway())
	assert.NotNil(t, d.Authenticator())
	assert.NotNil(t, d.Memory())
	assert.NotNil(t, d.scheduler)
	assert.Nil(t, d.watcher)
	assert.Equal(t, "mock", d.provider)
	assert.FileExists(t, filepath.Join(d.config.DataDir, "steward.db"))
}

func TestNew_Validation(t *testing.T) {
	log := testLogger(t)

	_, err := New(nil, log, Options{})
	assert.Error(t, err)

	_, err = New(testConfig(t), nil, Options{})
	assert.Error(t, err)

	t.Run("requires credentials without a planner", func(t *testing.T) {
		_, err := New(testConfig(t), log, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no AI credentials")
	})

	t.Run("requires a jwt secret", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Gateway.JWTSecret = ""
		_, err := New(cfg, log, Options{Planner: &mockPlanner{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authenticator")
	})

	t.Run("rejects a bad schedule", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PendingGaugeSchedule = "whenever"
		_, err := New(cfg, log, Options{Planner: &mockPlanner{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pending_gauge_schedule")
	})
}

func TestNew_PlannerFromProfile(t *testing.T) {
	tests := []struct {
		provider string
		model    string
	}{
		{"anthropic", "claude-sonnet-4-5"},
		{"openai", "gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.AI.Profiles = []config.AIProfile{{ID: "p", Provider: tt.provider, APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"}}

			d, err := New(cfg, testLogger(t), Options{})
			require.NoError(t, err)
			t.Cleanup(d.Close)

			assert.Equal(t, tt.provider, d.provider)
			assert.Equal(t, tt.model, d.Orchestrator().Options().Model)
		})
	}

	t.Run("configured model wins", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Agent.Model = "gpt-4.1-mini"
		cfg.AI.Profiles = []config.AIProfile{{ID: "p", Provider: "openai", APIKey: "sk-test"}}

		d, err := New(cfg, testLogger(t), Options{})
		require.NoError(t, err)
		t.Cleanup(d.Close)
		assert.Equal(t, "gpt-4.1-mini", d.Orchestrator().Options().Model)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI.Profiles = []config.AIProfile{{ID: "p", Provider: "gemini", APIKey: "k"}}
		_, err := New(cfg, testLogger(t), Options{})
		assert.Error(t, err)
	})
}

func TestDaemonStartStop(t *testing.T) {
	d := createTestDaemon(t, &mockPlanner{})

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.FileExists(t, PIDFilePath(d.config.DataDir))

	assert.Error(t, d.Start(), "second start should fail")

	resp, err := http.Get("http://" + d.Gateway().Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.NoFileExists(t, PIDFilePath(d.config.DataDir))

	assert.Error(t, d.Stop(), "second stop should fail")
}

func TestDaemon_AgentRunOverGateway(t *testing.T) {
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything).Return(&agent.PlanResponse{Model: "mock-1", Text: "hello back"}, nil)

	d := createTestDaemon(t, planner)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })

	token, err := d.Authenticator().IssueToken("u1", time.Hour)
	require.NoError(t, err)

	body := `{"id":"1","method":"agent.run","params":{"prompt":"hello"}}`
	req, err := http.NewRequest(http.MethodPost, "http://"+d.Gateway().Addr()+"/rpc", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Result agent.RunResult `json:"result"`
		Error  interface{}     `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Nil(t, out.Error)
	assert.Equal(t, agent.ModeAssistantText, out.Result.Mode)
	assert.Equal(t, "hello back", out.Result.Text)

	msgs, err := d.Orchestrator().ListThreadMessages(context.Background(), "u1", out.Result.ThreadID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	planner.AssertNumberOfCalls(t, "Plan", 1)
}

func TestDaemon_ApplyConfig(t *testing.T) {
	d := createTestDaemon(t, &mockPlanner{})

	next := testConfig(t)
	next.Agent.SideEffectsDisabled = true
	next.Agent.MaxSteps = 3
	d.applyConfig(next)

	opts := d.Orchestrator().Options()
	assert.True(t, opts.SideEffectsDisabled)
	assert.Equal(t, 3, opts.MaxSteps)
	assert.True(t, d.policy.SideEffectsDisabled())
}

func TestDaemon_HotReloadFromFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.DataDir, "steward.json")
	loader := config.NewLoader(path)

	write := func(c *config.Config) {
		require.NoError(t, loader.Save(c))
	}
	write(cfg)

	d, err := New(cfg, testLogger(t), Options{Planner: &mockPlanner{}, Loader: loader})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })

	next := *cfg
	next.Agent.SideEffectsDisabled = true
	write(&next)

	require.Eventually(t, func() bool {
		return d.Orchestrator().Options().SideEffectsDisabled
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	d := createTestDaemon(t, &mockPlanner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Status().Running }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, d.Status().Running)
}

func TestDaemon_RefreshPendingGauge(t *testing.T) {
	d := createTestDaemon(t, &mockPlanner{})
	d.refreshPendingGauge()

	_, err := os.Stat(d.config.Logging.AuditFile)
	assert.NoError(t, err)
}
