package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/steward/pkg/gateway"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a gateway bearer token for the user",
	Long: `Issue a gateway bearer token signed with gateway.jwt_secret.
The token subject is the --user value. A zero --ttl issues a token without expiry.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	auth, err := gateway.NewAuthenticator(cfg.Gateway.JWTSecret)
	if err != nil {
		return fmt.Errorf("gateway.jwt_secret must be configured: %w", err)
	}

	token, err := auth.IssueToken(userID, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
