package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/steward/pkg/models"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Show or change the user's trust level",
}

var trustSetCmd = &cobra.Command{
	Use:   "set <supervised|delegated|autonomous>",
	Short: "Set the trust level",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrustSet,
}

var trustShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective trust level",
	Args:  cobra.NoArgs,
	RunE:  runTrustShow,
}

func init() {
	trustCmd.AddCommand(trustSetCmd)
	trustCmd.AddCommand(trustShowCmd)
	rootCmd.AddCommand(trustCmd)
}

func runTrustSet(cmd *cobra.Command, args []string) error {
	level, ok := models.ParseTrustLevel(args[0])
	if !ok {
		return fmt.Errorf("invalid trust level %q (must be one of: supervised, delegated, autonomous)", args[0])
	}

	d, closeFn, err := openLocal(false)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := d.Orchestrator().SetTrustLevel(cmd.Context(), userID, level); err != nil {
		return fmt.Errorf("failed to set trust level: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Trust level for %s set to %s\n", userID, level)
	return nil
}

func runTrustShow(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(false)
	if err != nil {
		return err
	}
	defer closeFn()

	level, explicit, err := d.Store().ResolveTrustLevel(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("failed to read trust level: %w", err)
	}

	out := cmd.OutOrStdout()
	if !explicit {
		fmt.Fprintf(out, "%s (default)\n", d.DefaultTrust())
		return nil
	}
	fmt.Fprintln(out, level)
	return nil
}
