package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/iksnae/chief-of-staff/internal/assist"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/governor"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"github.com/iksnae/chief-of-staff/testutil"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store     *store.Store
	clock     *testutil.Clock
	cfg       *config.Config
	model     *testutil.ScriptedModel
	sources   *testutil.FakeSources
	events    *recorder
	orch      *Orchestrator
	approvals *ApprovalService
}

func newHarness(t *testing.T, model *testutil.ScriptedModel, mutate func(*config.Config)) *harness {
	t.Helper()
	s, clock := testutil.NewStore(t)
	cfg := config.Default()
	cfg.User.Name = "Dana"
	if mutate != nil {
		mutate(cfg)
	}
	live := config.Static(cfg)
	sources := testutil.NewFakeSources()
	rec := &recorder{}

	registry, err := tools.NewRegistry(tools.Builtins(tools.Deps{
		Store:    s,
		Config:   live,
		Mail:     sources,
		Calendar: sources,
		Tasks:    sources,
		Notifier: sources,
		Now:      clock.Now,
	}), nil)
	require.NoError(t, err)
	dispatcher := tools.NewDispatcher(registry)

	gov := governor.New(s, governor.NewRateLimiter(clock.Now), func() governor.Limits {
		return governor.Limits{
			MaxSessionsPerHour: cfg.Agent.MaxSessionsPerHour,
			MaxSessionsPerDay:  cfg.Agent.MaxSessionsPerDay,
			MaxDailyCostUSD:    cfg.API.MaxDailyCostUSD,
			Location:           cfg.Location(),
		}
	}, clock.Now)

	orch := New(Deps{
		Store:      s,
		Config:     live,
		Model:      model,
		Dispatcher: dispatcher,
		Gate:       gov,
		Meter:      assist.NewMeter(s, live),
		Events:     rec,
		Now:        clock.Now,
	})

	return &harness{
		store:     s,
		clock:     clock,
		cfg:       cfg,
		model:     model,
		sources:   sources,
		events:    rec,
		orch:      orch,
		approvals: NewApprovalService(s, dispatcher, rec, clock.Now, cfg.Location),
	}
}

func (h *harness) session(t *testing.T, id string) *store.Session {
	t.Helper()
	sess, err := h.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func (h *harness) actions(t *testing.T, id string) []store.Action {
	t.Helper()
	actions, err := h.store.SessionActions(context.Background(), id)
	require.NoError(t, err)
	return actions
}

func (h *harness) spentToday(t *testing.T) float64 {
	t.Helper()
	total, err := h.store.CostSince(context.Background(), store.StartOfDay(h.clock.Now()))
	require.NoError(t, err)
	return total
}
