package cmd

import (
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/spf13/cobra"
)

var goalsAll bool

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Inspect and toggle the standing goals the agent checks",
}

var goalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals with their last check",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			goals, err := a.store.Goals(cmd.Context(), !goalsAll)
			if err != nil {
				return err
			}
			if len(goals) == 0 {
				internal.PrintInfo("No goals. Default goals are created by: chief-of-staff init")
				return nil
			}
			loc := a.cfg.Current().Location()
			rows := make([][]string, 0, len(goals))
			for _, g := range goals {
				checked := "never"
				if g.LastCheckedAt != nil {
					checked = shortTime(*g.LastCheckedAt, loc)
				}
				enabled := "yes"
				if !g.Enabled {
					enabled = dimStyle.Render("no")
				}
				status := g.LastStatus
				if status == "" {
					status = "-"
				}
				rows = append(rows, []string{g.ID, g.Title, string(g.Schedule), enabled, checked, statusStyle(status).Render(ellipsis(status, 50))})
			}
			table(cmd.OutOrStdout(), []string{"ID", "TITLE", "SCHEDULE", "ENABLED", "LAST CHECK", "STATUS"}, rows)
			return nil
		})
	},
}

func goalToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <goal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.store.SetGoalEnabled(cmd.Context(), args[0], enabled); err != nil {
					return err
				}
				internal.PrintSuccess(short + ": " + args[0])
				return nil
			})
		},
	}
}

func init() {
	goalsListCmd.Flags().BoolVar(&goalsAll, "all", false, "Include disabled goals")
	goalsCmd.AddCommand(
		goalsListCmd,
		goalToggleCmd("enable", "Goal enabled", true),
		goalToggleCmd("disable", "Goal disabled", false),
	)
	rootCmd.AddCommand(goalsCmd)
}
