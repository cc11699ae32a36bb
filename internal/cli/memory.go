package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage facts the agent remembers about the user",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <fact>",
	Short: "Remember a fact",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryAdd,
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the memory block given to the planner",
	Args:  cobra.NoArgs,
	RunE:  runMemoryShow,
}

func init() {
	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	rootCmd.AddCommand(memoryCmd)
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(false)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := d.Memory().Remember(cmd.Context(), userID, strings.Join(args, " ")); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Remembered")
	return nil
}

func runMemoryShow(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(false)
	if err != nil {
		return err
	}
	defer closeFn()

	block := d.Memory().BuildContextBlock(cmd.Context(), userID)
	if block == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No facts remembered")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), block)
	return nil
}
