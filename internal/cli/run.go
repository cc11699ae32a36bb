package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/steward/pkg/agent"
	"github.com/harun/steward/pkg/models"
)

var runThreadID string

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run the agent once for a prompt",
	Long: `Run the agent once for a prompt and print the outcome.
Text is streamed as it is generated. When a tool needs approval the approval id
is printed; resolve it with "steward approvals resolve".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runThreadID, "thread", "", "continue an existing thread")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(true)
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	events := make(chan agent.StreamEvent, 64)
	streamed := make(chan bool, 1)
	go func() {
		streamed <- printEvents(out, events)
	}()

	result := d.Orchestrator().RunAgent(cmd.Context(), agent.RunRequest{
		UserID:   userID,
		Prompt:   strings.Join(args, " "),
		ThreadID: runThreadID,
		Source:   "cli",
		Events:   events,
	})
	close(events)
	sawText := <-streamed

	return printRunResult(out, result, sawText)
}

// printEvents writes streamed text and reports whether any text was written
func printEvents(out io.Writer, events <-chan agent.StreamEvent) bool {
	sawText := false
	for ev := range events {
		switch ev.Type {
		case agent.EventTextDelta:
			fmt.Fprint(out, ev.Text)
			sawText = true
		case agent.EventToolStarted:
			if name, ok := ev.Data["tool"].(string); ok {
				fmt.Fprintf(out, "[running %s]\n", name)
			}
		}
	}
	return sawText
}

func printRunResult(out io.Writer, result *agent.RunResult, sawText bool) error {
	if result.Status == models.RunFailed {
		return fmt.Errorf("run %s failed: %s", result.RunID, result.Error)
	}

	switch result.Mode {
	case agent.ModeRequiresApproval:
		if result.Approval == nil {
			break
		}
		fmt.Fprintf(out, "Approval required for %s (%s)\n", result.Approval.ToolName, result.Approval.Reason)
		fmt.Fprintf(out, "  %s\n", result.Approval.Preview)
		fmt.Fprintf(out, "Approval ID: %s\n", result.Approval.ID)
		fmt.Fprintf(out, "Resolve with: steward approvals resolve %s approve_once\n", result.Approval.ID)
	default:
		if sawText {
			fmt.Fprintln(out)
		} else if result.Text != "" {
			fmt.Fprintln(out, result.Text)
		}
	}

	fmt.Fprintf(out, "Thread: %s\n", result.ThreadID)
	return nil
}
