package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/steward/pkg/agent"
	"github.com/harun/steward/pkg/models"
)

var (
	approvalsThreadID string
	resolveFeedback   string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and resolve pending approvals",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	Args:  cobra.NoArgs,
	RunE:  runApprovalsList,
}

var approvalsResolveCmd = &cobra.Command{
	Use:   "resolve <approval-id> <reject|approve_once|approve_and_always_allow_recipient>",
	Short: "Resolve a pending approval",
	Long: `Resolve a pending approval. Approving executes the stored tool call at most once;
approve_and_always_allow_recipient also adds the recipient to the allowlist.`,
	Args: cobra.ExactArgs(2),
	RunE: runApprovalsResolve,
}

func init() {
	approvalsListCmd.Flags().StringVar(&approvalsThreadID, "thread", "", "only approvals of this thread")
	approvalsResolveCmd.Flags().StringVar(&resolveFeedback, "feedback", "", "feedback stored with the decision")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsResolveCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(false)
	if err != nil {
		return err
	}
	defer closeFn()

	approvals, err := d.Orchestrator().ListPendingApprovals(cmd.Context(), userID, approvalsThreadID)
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(approvals) == 0 {
		fmt.Fprintln(out, "No pending approvals")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTOOL\tCREATED\tPREVIEW")
	for _, a := range approvals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.ToolName, a.CreatedAt.Format("2006-01-02 15:04"), a.Preview)
	}
	return w.Flush()
}

func runApprovalsResolve(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(false)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := d.Orchestrator().ResolveApproval(cmd.Context(), agent.ResolveRequest{
		ApprovalID: args[0],
		UserID:     userID,
		Decision:   models.Decision(args[1]),
		Feedback:   resolveFeedback,
	})
	out := cmd.OutOrStdout()
	if err != nil {
		if result != nil {
			fmt.Fprintf(out, "Approval %s: %s (run %s)\n", result.ApprovalID, result.ApprovalStatus, result.RunStatus)
		}
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	fmt.Fprintf(out, "Approval %s: %s\n", result.ApprovalID, result.ApprovalStatus)
	fmt.Fprintln(out, result.Summary)
	return nil
}
