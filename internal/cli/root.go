package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/steward/internal/config"
	"github.com/harun/steward/internal/daemon"
	"github.com/harun/steward/internal/logger"
	"github.com/harun/steward/pkg/agent"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
	userID   string
)

// plannerOverride replaces the configured planner; tests set it.
var plannerOverride agent.Planner

// errPlannerUnavailable is returned by the planner of commands that never plan.
var errPlannerUnavailable = errors.New("planner is not available for this command")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Steward - personal assistant agent",
	Long: `Steward is a personal assistant agent that plans with an LLM, acts through
email, calendar and chat tools, and asks for approval before side effects
according to the user's trust level.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a context
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steward/steward.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", defaultUser(), "user id for local commands")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

func defaultUser() string {
	if u := os.Getenv("STEWARD_USER"); u != "" {
		return u
	}
	return "local"
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and .env from the working directory
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile, ".env")
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, loader, nil
}

// newLogger builds the process logger. Local commands pass console=false so their
// output is not mixed with logs; the log file still receives them.
func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	var out io.Writer = os.Stderr
	if !console {
		out = io.Discard
	}
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console && cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    out,
	})
}

// offlinePlanner backs commands that only read or resolve and never plan
type offlinePlanner struct{}

func (offlinePlanner) Plan(context.Context, agent.PlanRequest) (*agent.PlanResponse, error) {
	return nil, errPlannerUnavailable
}

func (offlinePlanner) Provider() string { return "offline" }

// openLocal builds the daemon components without starting the gateway. needsPlanner
// selects the configured planner; otherwise no AI credentials are required.
func openLocal(needsPlanner bool) (*daemon.Daemon, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	// Local commands never serve, the gateway only needs a signing key to build.
	if cfg.Gateway.JWTSecret == "" {
		cfg.Gateway.JWTSecret = "local-only"
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	opts := daemon.Options{Planner: plannerOverride}
	if opts.Planner == nil && !needsPlanner {
		opts.Planner = offlinePlanner{}
	}

	d, err := daemon.New(cfg, log, opts)
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	return d, func() {
		d.Close()
		log.Close()
	}, nil
}
