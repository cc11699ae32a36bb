package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/steward/internal/config"
	"github.com/harun/steward/internal/logger"
	"github.com/harun/steward/internal/observability"
	"github.com/harun/steward/internal/tracing"
	"github.com/harun/steward/pkg/agent"
	"github.com/harun/steward/pkg/gateway"
	"github.com/harun/steward/pkg/memory"
	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/policy"
	"github.com/harun/steward/pkg/store"
	"github.com/harun/steward/pkg/tools"
)

const shutdownTimeout = 10 * time.Second

// defaultModels is used when agent.model is unset
var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o",
}

// Options customizes daemon construction
type Options struct {
	// Loader enables config hot reload when set.
	Loader *config.Loader
	// Planner replaces the planner built from the primary AI profile.
	Planner agent.Planner
	// Providers replaces the Slack and dry-run tool providers.
	Providers *tools.Providers
}

// Daemon wires the store, policy, orchestrator and gateway into one process
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger
	opts   Options

	store         *store.DB
	registry      *tools.Registry
	policy        *policy.Engine
	memory        *memory.Provider
	orchestrator  *agent.Orchestrator
	auth          *gateway.Authenticator
	gatewayServer *gateway.Server
	watcher       *config.Watcher
	scheduler     *cron.Cron
	lifecycle     *LifecycleManager

	provider  string
	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a snapshot of the daemon state
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Component("daemon"),
		opts:   opts,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initialize(); err != nil {
		d.closeResources()
		return nil, err
	}

	return d, nil
}

// initialize builds the components in dependency order
func (d *Daemon) initialize() error {
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	db, err := store.Open(store.Config{Path: cfg.DatabasePath(), Logger: d.logger.Zerolog()})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = db

	registry, err := tools.NewBuiltinRegistry(d.buildProviders())
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}
	d.registry = registry

	engine, err := policy.NewEngine(policy.Config{
		SideEffectsDisabled: cfg.Agent.SideEffectsDisabled,
		DefaultTrust:        cfg.DefaultTrust(),
		Trust:               db,
		Allowlist:           db,
		Logger:              d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}
	d.policy = engine

	mem, err := memory.NewProvider(memory.Config{
		Store:    db,
		MaxFacts: cfg.Memory.MaxFacts,
		MaxChars: cfg.Memory.MaxChars,
		Logger:   d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create memory provider: %w", err)
	}
	d.memory = mem

	planner := d.opts.Planner
	if planner == nil {
		planner, err = newPlanner(cfg)
		if err != nil {
			return err
		}
	}
	d.provider = planner.Provider()

	orch, err := agent.New(agent.Config{
		Store:    db,
		Planner:  planner,
		Registry: registry,
		Policy:   engine,
		Memory:   mem,
		Options:  d.agentOptions(cfg),
		Logger:   d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orch

	auth, err := gateway.NewAuthenticator(cfg.Gateway.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}
	d.auth = auth

	srv, err := gateway.NewServer(gateway.Config{
		Addr:           net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)),
		Auth:           auth,
		Agent:          orch,
		RunTimeout:     time.Duration(cfg.Gateway.RunTimeout) * time.Second,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Logger:         d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = srv

	if cfg.PendingGaugeSchedule != "" {
		d.scheduler = cron.New()
		if _, err := d.scheduler.AddFunc(cfg.PendingGaugeSchedule, d.refreshPendingGauge); err != nil {
			return fmt.Errorf("invalid pending_gauge_schedule: %w", err)
		}
	}

	if d.opts.Loader != nil {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Loader:   d.opts.Loader,
			OnChange: d.applyConfig,
			Logger:   d.logger.Zerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	d.lifecycle = NewLifecycleManager(cfg.DataDir, d.logger.Zerolog())

	d.log.Info().
		Str("provider", d.provider).
		Str("model", orch.Options().Model).
		Strs("tools", registry.Names()).
		Msg("Core modules initialized")
	return nil
}

// buildProviders returns the configured providers, falling back to dry-run ones
func (d *Daemon) buildProviders() tools.Providers {
	if d.opts.Providers != nil {
		return *d.opts.Providers
	}

	base := d.logger.Zerolog()
	p := tools.Providers{
		Mail:     tools.NewDryRunMail(base),
		Calendar: tools.NewDryRunCalendar(base),
		Chat:     tools.NewDryRunChat(base),
	}
	if token := d.config.Slack.BotToken; token != "" {
		slackChat, err := tools.NewSlackChat(token)
		if err != nil {
			d.log.Warn().Err(err).Msg("Slack disabled, using dry-run chat")
		} else {
			p.Chat = slackChat
		}
	}
	return p
}

func newPlanner(cfg *config.Config) (agent.Planner, error) {
	profile, ok := cfg.PrimaryProfile()
	if !ok {
		return nil, fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	switch profile.Provider {
	case "anthropic":
		var opts []anthropicoption.RequestOption
		if profile.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(profile.BaseURL))
		}
		return agent.NewAnthropicPlanner(profile.APIKey, opts...), nil
	case "openai":
		var opts []openaioption.RequestOption
		if profile.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(profile.BaseURL))
		}
		return agent.NewOpenAIPlanner(profile.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", profile.Provider)
	}
}

// agentOptions converts the agent config, filling the provider's default model
func (d *Daemon) agentOptions(cfg *config.Config) agent.Options {
	opts := cfg.AgentOptions()
	if opts.Model == "" {
		opts.Model = defaultModels[d.provider]
	}
	return opts
}

// applyConfig hot-applies a reloaded config to the running components
func (d *Daemon) applyConfig(cfg *config.Config) {
	opts := d.agentOptions(cfg)
	d.orchestrator.SetOptions(opts)

	d.mu.Lock()
	d.config.Agent = cfg.Agent
	d.mu.Unlock()

	observability.RecordConfigAudit(context.Background(), "reload", "config_watcher", map[string]interface{}{
		"side_effects_disabled": opts.SideEffectsDisabled,
		"max_steps":             opts.MaxSteps,
		"model":                 opts.Model,
	})
	d.log.Info().
		Bool("side_effects_disabled", opts.SideEffectsDisabled).
		Int("max_steps", opts.MaxSteps).
		Msg("Agent options reloaded")
}

func (d *Daemon) refreshPendingGauge() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := d.store.CountPendingApprovals(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("Failed to count pending approvals")
		return
	}
	observability.SetPendingApprovals(count)
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting steward daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if d.scheduler != nil {
		d.refreshPendingGauge()
		d.scheduler.Start()
		logger.Info().Str("schedule", d.config.PendingGaugeSchedule).Msg("Scheduler started")
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher, hot reload disabled")
		}
	}

	logger.Info().Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop gracefully stops the daemon
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping steward daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
		logger.Info().Msg("Scheduler stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.gatewayServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.closeResources()

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// closeResources releases the store, tracer and audit log
func (d *Daemon) closeResources() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close store")
		}
		d.store = nil
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if prev := observability.SetAuditLogger(nil); prev != nil {
		if err := prev.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close audit logger")
		}
	}
}

// Run starts the daemon and blocks until ctx is done or SIGINT/SIGTERM arrives
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	d.log.Info().Msg("Shutdown requested")
	return d.Stop()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Orchestrator returns the agent orchestrator
func (d *Daemon) Orchestrator() *agent.Orchestrator {
	return d.orchestrator
}

// Gateway returns the gateway server
func (d *Daemon) Gateway() *gateway.Server {
	return d.gatewayServer
}

// Authenticator returns the gateway token authenticator
func (d *Daemon) Authenticator() *gateway.Authenticator {
	return d.auth
}

// Memory returns the memory provider
func (d *Daemon) Memory() *memory.Provider {
	return d.memory
}

// DefaultTrust returns the trust level of users without an explicit setting
func (d *Daemon) DefaultTrust() models.TrustLevel {
	return d.config.DefaultTrust()
}

// Store returns the underlying store
func (d *Daemon) Store() *store.DB {
	return d.store
}

// Close releases resources of a daemon that was never started
func (d *Daemon) Close() {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		_ = d.Stop()
		return
	}
	d.closeResources()
}
