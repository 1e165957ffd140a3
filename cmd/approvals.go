package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/spf13/cobra"
)

var (
	approveData   string
	approvalsJSON bool
)

var approvalsCmd = &cobra.Command{
	Use:     "approvals",
	Aliases: []string{"approval", "queue"},
	Short:   "Review actions waiting for your decision",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			pending, err := a.approvals.Pending(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if approvalsJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(pending)
			}
			if len(pending) == 0 {
				internal.PrintSuccess("Nothing is waiting for approval")
				return nil
			}

			loc := a.cfg.Current().Location()
			for _, p := range pending {
				_, _ = fmt.Fprintf(out, "%s  %s  %s\n",
					headerStyle.Render(p.ID),
					statusStyle(string(p.Risk)).Render(strings.ToUpper(string(p.Risk))),
					dimStyle.Render(shortTime(p.CreatedAt, loc)+" · "+p.ActionType))
				_, _ = fmt.Fprintf(out, "  %s\n", p.Title)
				if p.Description != "" {
					_, _ = fmt.Fprintf(out, "  %s\n", dimStyle.Render(ellipsis(p.Description, 160)))
				}
				_, _ = fmt.Fprintf(out, "  %s\n\n", dimStyle.Render(ellipsis(string(p.Payload), 160)))
			}
			_, _ = fmt.Fprintf(out, "%d pending · approve with: chief-of-staff approvals approve <id> [--data '{...}']\n", len(pending))
			return nil
		})
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve and execute a queued action",
	Long: `Approve a queued action and run it once. --data replaces the payload with an
edited JSON object, for example a rewritten email body. The edit is validated
against the tool's arguments before anything runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var edited json.RawMessage
		if approveData != "" {
			edited = json.RawMessage(approveData)
		}
		return resolveApproval(cmd, args[0], agent.Approve, edited)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a queued action without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], agent.Reject, nil)
	},
}

func resolveApproval(cmd *cobra.Command, id string, decision agent.Decision, edited json.RawMessage) error {
	return withApp(cmd.Context(), func(a *app) error {
		res, err := a.approvals.Resolve(cmd.Context(), id, decision, edited)
		if err != nil {
			if agent.IsAlreadyResolved(err) {
				return fmt.Errorf("approval %s was already resolved", id)
			}
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case res.Error != "":
			internal.PrintWarning(fmt.Sprintf("Approved %s but the action failed: %s", id, res.Error))
		case decision == agent.Reject:
			internal.PrintSuccess(fmt.Sprintf("Rejected %s", id))
		default:
			msg := fmt.Sprintf("Approved %s", id)
			if res.Edited {
				msg += " with edits"
			}
			internal.PrintSuccess(msg)
			if res.Output != "" {
				_, _ = fmt.Fprintln(out, dimStyle.Render(ellipsis(res.Output, 400)))
			}
		}
		return nil
	})
}

func init() {
	approvalsListCmd.Flags().BoolVar(&approvalsJSON, "json", false, "Print as JSON")
	approvalsApproveCmd.Flags().StringVar(&approveData, "data", "", "Edited payload as a JSON object")
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd)
	rootCmd.AddCommand(approvalsCmd)
}
