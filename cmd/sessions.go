package cmd

import (
	"fmt"
	"strconv"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Inspect past agent and chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			sessions, err := a.store.RecentSessions(cmd.Context(), sessionsLimit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				internal.PrintInfo("No sessions yet. Start one with: chief-of-staff run")
				return nil
			}
			loc := a.cfg.Current().Location()
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					s.ID,
					string(s.Trigger),
					statusStyle(string(s.Status)).Render(string(s.Status)),
					shortTime(s.StartedAt, loc),
					strconv.Itoa(s.ToolCalls),
					usd(s.TotalCostUSD),
					ellipsis(firstNonEmpty(s.Error, s.Summary), 60),
				})
			}
			table(cmd.OutOrStdout(), []string{"ID", "TRIGGER", "STATUS", "STARTED", "TOOLS", "COST", "SUMMARY"}, rows)
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its action ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			s, err := a.store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			actions, err := a.store.SessionActions(ctx, s.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			loc := a.cfg.Current().Location()
			_, _ = fmt.Fprintf(out, "%s %s  %s\n", sectionStyle.Render("Session"), s.ID, statusStyle(string(s.Status)).Render(string(s.Status)))
			_, _ = fmt.Fprintf(out, "%s\n\n", dimStyle.Render(fmt.Sprintf("%s · started %s · %d tool calls · %s",
				s.Trigger, shortTime(s.StartedAt, loc), s.ToolCalls, usd(s.TotalCostUSD))))
			if s.Error != "" {
				_, _ = fmt.Fprintf(out, "%s %s\n\n", errorStyle.Render("Error:"), s.Error)
			}
			if s.Summary != "" {
				_, _ = fmt.Fprint(out, renderMarkdown(s.Summary))
				_, _ = fmt.Fprintln(out)
			}

			if len(actions) == 0 {
				_, _ = fmt.Fprintln(out, dimStyle.Render("No actions recorded."))
				return nil
			}
			rows := make([][]string, 0, len(actions))
			for _, act := range actions {
				rows = append(rows, []string{
					act.CreatedAt.In(loc).Format("15:04:05"),
					act.ToolName,
					statusStyle(string(act.Status)).Render(string(act.Status)),
					ellipsis(act.Output, 70),
				})
			}
			table(out, []string{"TIME", "TOOL", "STATUS", "OUTPUT"}, rows)
			return nil
		})
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Number of sessions to show")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}
