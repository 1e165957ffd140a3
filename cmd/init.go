package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/sources"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, config, context file and database",
	Long: `Set up a data directory for first use:
  • config.yaml with defaults (kept unless --force)
  • sources.yaml, the local mail, calendar and task workspace
  • the database, with the default goals
  • context.md, the agent's identity and standing instructions

Edit config.yaml and context.md afterwards to describe yourself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolvePaths()
		if err != nil {
			return err
		}
		cfg := config.Default()

		steps := []internal.ProgressStep{
			{Message: "Write configuration", Fn: func(context.Context) error {
				if err := os.MkdirAll(p.DataDir, 0755); err != nil {
					return err
				}
				if initForce {
					return config.Save(p.Config, cfg)
				}
				loaded, err := config.Load(p.Config)
				if err != nil {
					return err
				}
				cfg = loaded
				return nil
			}},
			{Message: "Create sources file", Fn: func(context.Context) error {
				path := cfg.Sources.LocalFile
				if path == "" {
					path = filepath.Join(p.DataDir, sourcesFileName)
				}
				_, err := sources.OpenLocal(path, nil)
				return err
			}},
			{Message: "Initialize database", Fn: func(ctx context.Context) error {
				st, err := store.Open(p.DB)
				if err != nil {
					return err
				}
				defer st.Close()
				return st.SeedDefaultGoals(ctx)
			}},
			{Message: "Write agent context", Fn: func(context.Context) error {
				path := cfg.Agent.ContextFile
				if path == "" {
					path = filepath.Join(p.DataDir, contextFileName)
				}
				if _, err := os.Stat(path); err == nil && !initForce {
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					return err
				}
				return os.WriteFile(path, []byte(agent.DefaultContext(cfg)), 0644)
			}},
		}
		if err := internal.ShowProgressWithSteps(cmd.Context(), steps); err != nil {
			return err
		}

		internal.PrintSuccess(fmt.Sprintf("Ready in %s", p.DataDir))
		fmt.Fprintf(cmd.OutOrStdout(), "Next: edit %s, then run 'chief-of-staff healthcheck'\n", p.Config)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite config.yaml and context.md with defaults")
}
