package cmd

import (
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/spf13/cobra"
)

var memoryLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect what the agent remembers",
}

var memoryListCmd = &cobra.Command{
	Use:   "list [category]",
	Short: "List memory entries, most recently updated first",
	Long: `List the agent's memory entries. Categories written by the agent include
journal (session reflections), pending (follow-ups) and facts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category := ""
		if len(args) == 1 {
			category = args[0]
		}
		return withApp(cmd.Context(), func(a *app) error {
			entries, err := a.store.SearchMemory(cmd.Context(), category, memoryLimit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				internal.PrintInfo("No memory entries")
				return nil
			}
			loc := a.cfg.Current().Location()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Category, e.Key, shortTime(e.UpdatedAt, loc), ellipsis(e.Value, 80)})
			}
			table(cmd.OutOrStdout(), []string{"CATEGORY", "KEY", "UPDATED", "VALUE"}, rows)
			return nil
		})
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <category> <key>",
	Short: "Delete one memory entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.store.DeleteMemory(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			internal.PrintSuccess("Forgot " + args[0] + "/" + args[1])
			return nil
		})
	},
}

func init() {
	memoryListCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 50, "Number of entries to show")
	memoryCmd.AddCommand(memoryListCmd, memoryForgetCmd)
	rootCmd.AddCommand(memoryCmd)
}
