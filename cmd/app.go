package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/assist"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/governor"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/provider"
	"github.com/iksnae/chief-of-staff/internal/scheduler"
	"github.com/iksnae/chief-of-staff/internal/sources"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"go.uber.org/zap"
)

const (
	dbFileName      = "chief-of-staff.db"
	contextFileName = "context.md"
	sourcesFileName = "sources.yaml"
)

// paths are the on-disk locations derived from the global flags.
type paths struct {
	DataDir string
	Config  string
	DB      string
}

func resolvePaths() (paths, error) {
	dir := dataDir
	if dir == "" {
		var err error
		if dir, err = config.DefaultDataDir(); err != nil {
			return paths{}, err
		}
	}
	cfg := configPath
	if cfg == "" {
		cfg = filepath.Join(dir, config.FileName)
	}
	return paths{DataDir: dir, Config: cfg, DB: filepath.Join(dir, dbFileName)}, nil
}

// app is the composition root shared by every command.
type app struct {
	paths     paths
	cfg       *config.Live
	store     *store.Store
	bus       *events.Bus
	pool      *provider.Pool
	local     *sources.Local
	notifier  *sources.Notifier
	registry  *tools.Registry
	gov       *governor.Governor
	orch      *agent.Orchestrator
	approvals *agent.ApprovalService
	sched     *scheduler.Scheduler
}

// openApp loads config, opens the database and wires the engine. Providers
// connect lazily on first use.
func openApp(ctx context.Context) (*app, error) {
	p, err := resolvePaths()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := config.Load(p.Config)
	if err != nil {
		return nil, err
	}
	live := config.NewLive(p.Config, cfg)

	st, err := store.Open(p.DB)
	if err != nil {
		return nil, err
	}

	a := &app{paths: p, cfg: live, store: st, bus: events.NewBus()}
	if err := a.wire(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg.Current()
	now := time.Now

	sourcesPath := cfg.Sources.LocalFile
	if sourcesPath == "" {
		sourcesPath = filepath.Join(a.paths.DataDir, sourcesFileName)
	}
	local, err := sources.OpenLocal(sourcesPath, now)
	if err != nil {
		return err
	}
	a.local = local
	a.notifier = sources.NewNotifier(a.bus, now)

	providerConfigs := make([]provider.Config, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providerConfigs = append(providerConfigs, provider.Config{Name: pc.Name, Command: pc.Command, Args: pc.Args, Env: pc.Env})
	}
	a.pool = provider.NewPool(providerConfigs, provider.DialStdio)

	model := llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: cfg.APIKey(), BaseURL: cfg.API.BaseURL})
	if cfg.APIKey() == "" {
		internal.Logger().Warn("no model API key configured", zap.String("env", cfg.API.APIKeyEnv))
	}
	meter := assist.NewMeter(a.store, a.cfg)
	helper := assist.New(model, a.cfg, meter)

	registry, err := tools.NewRegistry(tools.Builtins(tools.Deps{
		Store:    a.store,
		Config:   a.cfg,
		Mail:     local,
		Calendar: local,
		Tasks:    local,
		Notifier: a.notifier,
		Briefer:  helper,
		Drafter:  helper,
		Now:      now,
	}), a.pool)
	if err != nil {
		return err
	}
	a.registry = registry
	dispatcher := tools.NewDispatcher(registry)

	a.gov = governor.New(a.store, governor.NewRateLimiter(now), func() governor.Limits {
		c := a.cfg.Current()
		return governor.Limits{
			MaxSessionsPerHour: c.Agent.MaxSessionsPerHour,
			MaxSessionsPerDay:  c.Agent.MaxSessionsPerDay,
			MaxDailyCostUSD:    c.API.MaxDailyCostUSD,
			Location:           c.Location(),
		}
	}, now)
	starts := internal.BestEffortValue(ctx, "seed rate limiter", func(ctx context.Context) ([]time.Time, error) {
		return a.store.SessionStartsSince(ctx, now().Add(-24*time.Hour))
	})
	a.gov.Rate().Seed(starts)

	contextPath := cfg.Agent.ContextFile
	if contextPath == "" {
		contextPath = filepath.Join(a.paths.DataDir, contextFileName)
	}
	a.orch = agent.New(agent.Deps{
		Store:      a.store,
		Config:     a.cfg,
		Model:      model,
		Dispatcher: dispatcher,
		Gate:       a.gov,
		Meter:      meter,
		Prompts:    agent.NewPromptBuilder(a.store, a.cfg, contextPath, now),
		Events:     a.bus,
		Notifier:   a.notifier,
		Now:        now,
	})
	a.approvals = agent.NewApprovalService(a.store, dispatcher, a.bus, now, func() *time.Location {
		return a.cfg.Current().Location()
	})
	a.sched = scheduler.New(scheduler.Deps{
		Store:    a.store,
		Config:   a.cfg,
		Runner:   a.orch,
		Mail:     local,
		Calendar: local,
		Notifier: a.notifier,
		Now:      now,
	})
	return nil
}

// Close releases provider processes and the database.
func (a *app) Close() error {
	var errs []error
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			internal.LogWarn("%v", err)
		}
	}()
	return fn(a)
}
