package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/spf13/cobra"
)

var runTrigger string

// runCmd runs one autonomous session in the foreground.
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run one agent session now",
	Long: `Run one autonomous agent session and print its summary.

Without --trigger the session is a manual run, subject to the manual run
cooldown. With --trigger the session runs as that scheduled trigger
(morning_sweep, evening_sweep, importance_spike, meeting_prep) using its
default instruction unless one is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		instruction := ""
		if len(args) == 1 {
			instruction = strings.TrimSpace(args[0])
		}

		return withApp(ctx, func(a *app) error {
			var res *agent.SessionResult
			err := internal.ShowProgress(ctx, "Agent working", func(ctx context.Context) error {
				var err error
				res, err = runOnce(ctx, a, runTrigger, instruction)
				return err
			})
			if res != nil {
				printSessionResult(cmd, res)
			}
			return err
		})
	},
}

// runOnce starts the session through the scheduler's manual path, or directly
// for an explicit trigger.
func runOnce(ctx context.Context, a *app, trigger, instruction string) (*agent.SessionResult, error) {
	if trigger == "" || trigger == string(store.TriggerManual) {
		return a.sched.RunNow(ctx, instruction)
	}
	t, ok := store.ParseTrigger(trigger)
	if !ok || t == store.TriggerChat {
		return nil, fmt.Errorf("unknown trigger %q", trigger)
	}
	if instruction == "" {
		instruction = agent.DefaultInstruction(t)
	}
	return a.orch.RunSession(ctx, t, instruction)
}

func printSessionResult(cmd *cobra.Command, res *agent.SessionResult) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s %s  %s\n",
		sectionStyle.Render("Session"), res.SessionID, statusStyle(string(res.Status)).Render(string(res.Status)))
	_, _ = fmt.Fprintf(out, "%s\n\n", dimStyle.Render(fmt.Sprintf(
		"%d tool calls · %d queued for approval · %d iterations · %s",
		res.ToolCalls, res.Queued, res.Iterations, usd(res.CostUSD))))
	if res.Summary != "" {
		_, _ = fmt.Fprint(out, renderMarkdown(res.Summary))
	}
	if res.Queued > 0 {
		_, _ = fmt.Fprintf(out, "\n%s\n", infoStyle.Render("Review queued actions with: chief-of-staff approvals list"))
	}
}

func init() {
	runCmd.Flags().StringVar(&runTrigger, "trigger", "", "Run as a scheduled trigger (morning_sweep, evening_sweep, importance_spike, meeting_prep)")
	rootCmd.AddCommand(runCmd)
}
