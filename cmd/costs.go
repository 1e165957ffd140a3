package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/spf13/cobra"
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show model spend against the daily budget",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			cfg := a.cfg.Current()
			loc := cfg.Location()

			summary, err := a.store.Summary(ctx, loc)
			if err != nil {
				return err
			}
			byModel, err := a.store.CostByModelSince(ctx, store.StartOfDay(time.Now().In(loc)))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			limit := cfg.API.MaxDailyCostUSD
			style := successStyle
			switch {
			case summary.Daily >= limit:
				style = errorStyle
			case summary.Daily >= 0.8*limit:
				style = warningStyle
			}
			_, _ = fmt.Fprintln(out, sectionStyle.Render("Model spend"))
			_, _ = fmt.Fprintf(out, "  Today:        %s of %s\n", style.Render(usd(summary.Daily)), usd(limit))
			_, _ = fmt.Fprintf(out, "  Last 7 days:  %s\n", usd(summary.Weekly))
			_, _ = fmt.Fprintf(out, "  Last 30 days: %s\n\n", usd(summary.Monthly))

			if len(byModel) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(byModel))
			for _, m := range byModel {
				rows = append(rows, []string{
					m.Model,
					strconv.Itoa(m.Calls),
					strconv.Itoa(m.InputTokens),
					strconv.Itoa(m.OutputTokens),
					usd(m.CostUSD),
				})
			}
			table(out, []string{"MODEL (TODAY)", "CALLS", "INPUT", "OUTPUT", "COST"}, rows)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(costsCmd)
}
