package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/provider"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/spf13/cobra"
)

const providerCheckTimeout = 10 * time.Second

// healthReport counts outcomes across the check steps.
type healthReport struct {
	w        io.Writer
	failures int
	warnings int
}

func (h *healthReport) ok(msg string) {
	fmt.Fprintln(h.w, successStyle.Render("✅ "+msg))
}

func (h *healthReport) warn(msg string) {
	h.warnings++
	fmt.Fprintln(h.w, warningStyle.Render("⚠️  "+msg))
}

func (h *healthReport) fail(msg string, err error) {
	h.failures++
	fmt.Fprintln(h.w, errorStyle.Render("❌ "+msg), err)
}

func (h *healthReport) detail(format string, args ...any) {
	if verbose {
		fmt.Fprintf(h.w, "   "+format+"\n", args...)
	}
}

func (h *healthReport) step(n int, title string) {
	fmt.Fprintln(h.w)
	fmt.Fprintln(h.w, infoStyle.Render(fmt.Sprintf("Step %d: %s", n, title)))
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check configuration, storage and providers",
	Long: `Check that chief-of-staff can run by verifying:
  • Data directory and configuration
  • Database access and today's spend
  • Model API key
  • Local sources file
  • Tool provider processes

Nothing is written except the database schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealthcheck(cmd.Context(), cmd.OutOrStdout())
	},
}

func runHealthcheck(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h := &healthReport{w: w}
	fmt.Fprintln(w, sectionStyle.Render("🔍 Chief of Staff Health Check"))

	p, err := resolvePaths()
	if err != nil {
		return err
	}

	h.step(1, "Checking data directory...")
	if info, err := os.Stat(p.DataDir); err == nil && info.IsDir() {
		h.ok("Data directory exists")
	} else if errors.Is(err, os.ErrNotExist) {
		h.warn("Data directory does not exist yet; it is created on first run")
	} else if err != nil {
		h.fail("Cannot access data directory:", err)
	} else {
		h.fail("Data directory path is not a directory:", errors.New(p.DataDir))
	}
	h.detail("Directory: %s", p.DataDir)

	h.step(2, "Loading configuration...")
	cfg := config.Default()
	if _, err := os.Stat(p.Config); errors.Is(err, os.ErrNotExist) {
		h.warn("Config file not found; defaults will be written on first run")
	} else if loaded, err := config.Load(p.Config); err != nil {
		h.fail("Invalid configuration:", err)
	} else {
		cfg = loaded
		h.ok("Configuration is valid")
	}
	h.detail("Config: %s", p.Config)
	h.detail("Autonomy mode: %s", cfg.Agent.AutonomyMode)

	h.step(3, "Opening database...")
	checkDatabase(ctx, h, p, cfg)

	h.step(4, "Checking model API key...")
	if cfg.APIKey() != "" {
		h.ok("API key found in $" + cfg.API.APIKeyEnv)
	} else {
		h.warn("No API key in $" + cfg.API.APIKeyEnv + "; sessions will fail")
	}

	h.step(5, "Checking local sources...")
	sourcesPath := cfg.Sources.LocalFile
	if sourcesPath == "" {
		sourcesPath = filepath.Join(p.DataDir, sourcesFileName)
	}
	if _, err := os.Stat(sourcesPath); err == nil {
		h.ok("Sources file exists")
	} else if errors.Is(err, os.ErrNotExist) {
		h.warn("Sources file not found; an empty one is created on first run")
	} else {
		h.fail("Cannot access sources file:", err)
	}
	h.detail("Sources: %s", sourcesPath)

	h.step(6, "Connecting tool providers...")
	checkProviders(ctx, h, cfg)

	fmt.Fprintln(w)
	fmt.Fprintln(w, sectionStyle.Render("📊 Summary"))
	switch {
	case h.failures > 0:
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("❌ Health check failed (%d problem(s), %d warning(s))", h.failures, h.warnings)))
		return fmt.Errorf("health check failed: %d problem(s)", h.failures)
	case h.warnings > 0:
		fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("⚠️  Health check passed with %d warning(s)", h.warnings)))
	default:
		fmt.Fprintln(w, successStyle.Render("✅ Health check passed!"))
	}
	return nil
}

func checkDatabase(ctx context.Context, h *healthReport, p paths, cfg *config.Config) {
	if err := os.MkdirAll(p.DataDir, 0755); err != nil {
		h.fail("Cannot create data directory:", err)
		return
	}
	st, err := store.Open(p.DB)
	if err != nil {
		h.fail("Failed to open database:", err)
		return
	}
	defer st.Close()
	h.ok("Database opened")
	h.detail("Database: %s", p.DB)

	pending, err := st.PendingApprovals(ctx)
	if err != nil {
		h.fail("Failed to read approvals:", err)
		return
	}
	if len(pending) > 0 {
		h.warn(fmt.Sprintf("%d approval(s) waiting for a decision", len(pending)))
	} else {
		h.ok("No pending approvals")
	}

	summary, err := st.Summary(ctx, cfg.Location())
	if err != nil {
		h.fail("Failed to read cost ledger:", err)
		return
	}
	limit := cfg.API.MaxDailyCostUSD
	msg := fmt.Sprintf("Today's spend %s of %s", usd(summary.Daily), usd(limit))
	if summary.Daily >= limit {
		h.warn(msg + "; the daily budget is exhausted")
	} else {
		h.ok(msg)
	}
}

func checkProviders(ctx context.Context, h *healthReport, cfg *config.Config) {
	if len(cfg.Providers) == 0 {
		h.ok("No external providers configured")
		return
	}
	configs := make([]provider.Config, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		configs = append(configs, provider.Config{Name: pc.Name, Command: pc.Command, Args: pc.Args, Env: pc.Env})
	}
	pool := provider.NewPool(configs, provider.DialStdio)
	defer pool.Close()

	for _, name := range pool.Names() {
		pctx, cancel := context.WithTimeout(ctx, providerCheckTimeout)
		tools, err := pool.ProviderTools(pctx, name)
		cancel()
		if err != nil {
			h.fail(fmt.Sprintf("Provider %q unavailable:", name), err)
			continue
		}
		h.ok(fmt.Sprintf("Provider %q offers %d tool(s)", name, len(tools)))
		for _, t := range tools {
			h.detail("%s", t.Name)
		}
	}
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
}
