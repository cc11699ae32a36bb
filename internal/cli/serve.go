package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/steward/internal/config"
	"github.com/harun/steward/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the steward daemon in the foreground",
	Long: `Run the steward daemon in the foreground.
The daemon serves the JSON-RPC gateway over HTTP and websocket, reloads the
agent section of the config file when it changes, and stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(problem).Msg("Config warning")
	}

	d, err := daemon.New(cfg, log, daemon.Options{Loader: loader, Planner: plannerOverride})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run(cmd.Context())
}
