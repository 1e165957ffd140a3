package cmd

import (
	"fmt"
	"os"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	dataDir    string
	configPath string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chief-of-staff",
	Short: "A personal chief of staff that triages your inbox, calendar and tasks",
	Long: `chief-of-staff runs an LLM agent over your email, calendar and tasks.

Low-risk actions (reading, triage, notes) run on their own. Anything that
speaks for you, such as sending an email or accepting a meeting, waits in an
approval queue until you decide. Every session is rate limited and every
model call is priced against a daily budget.

Quick Start:
  chief-of-staff run                        # Run one session now
  chief-of-staff chat                       # Talk to the agent
  chief-of-staff approvals list             # See what is waiting for you
  chief-of-staff serve                      # Scheduler + local API

Configuration lives in ~/.chief-of-staff/config.yaml and is created with
defaults on first use.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		internal.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		internal.Sync()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.chief-of-staff)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data-dir>/config.yaml)")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
