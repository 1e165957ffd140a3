package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveListen     string
	serveNoSchedule bool
)

// serveCmd runs the scheduler, the local API and config hot reload together.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the local HTTP API",
	Long: `Run the background scheduler (morning and evening sweeps, goal checks,
email and meeting watchers) together with the local HTTP API and websocket
event stream. Edits to config.yaml are picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(a *app) error {
			prepareServe(ctx, a)

			addr := serveListen
			if addr == "" {
				addr = a.cfg.Current().Server.Listen
			}
			srv := server.New(server.Deps{
				Store:        a.store,
				Config:       a.cfg,
				Orchestrator: a.orch,
				Approvals:    a.approvals,
				Runner:       a.sched,
				Bus:          a.bus,
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
			if !serveNoSchedule {
				g.Go(func() error { return a.sched.Run(ctx) })
			}
			g.Go(func() error {
				return a.cfg.Watch(ctx, func(c *config.Config) {
					a.bus.Publish(events.Event{Type: events.ConfigReloaded, Data: map[string]any{
						"autonomy_mode": c.Agent.AutonomyMode,
					}})
				})
			})

			internal.PrintSuccess("chief-of-staff is running on http://" + addr + " (Ctrl+C to stop)")
			err := g.Wait()
			internal.Logger().Info("shutdown complete")
			return err
		})
	},
}

// prepareServe seeds default goals and prunes stale memory.
func prepareServe(ctx context.Context, a *app) {
	internal.BestEffort(ctx, "seed default goals", a.store.SeedDefaultGoals)

	days := a.cfg.Current().Agent.MemoryRetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed := internal.BestEffortValue(ctx, "prune memory", func(ctx context.Context) (int64, error) {
		return a.store.PruneMemory(ctx, cutoff)
	})
	if removed > 0 {
		internal.Logger().Info("pruned stale memory", zap.Int64("entries", removed), zap.Int("retention_days", days))
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config, 127.0.0.1:7420)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-scheduler", false, "Serve the API without background jobs")
	rootCmd.AddCommand(serveCmd)
}
