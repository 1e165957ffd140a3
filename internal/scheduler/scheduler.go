// Package scheduler starts agent sessions on a timetable: daily sweeps, goal
// checks, and reactions to new mail and upcoming meetings.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/governor"
	"github.com/iksnae/chief-of-staff/internal/metrics"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job names, also used as metric labels.
const (
	JobMorningSweep = "morning_sweep"
	JobEveningSweep = "evening_sweep"
	JobGoalCheck    = "goal_check"
	JobEmailWatch   = "email_watch"
	JobMeetingWatch = "meeting_watch"
	JobManualRun    = "manual_run"
)

// RunNowKey is the cooldown key shared by every manual trigger.
const RunNowKey = "agent:run-now"

const meetingPollInterval = time.Minute

// errSkipped reports a job dropped because its previous run is still going.
var errSkipped = errors.New("previous run still in progress")

// Runner starts agent sessions. *agent.Orchestrator implements it.
type Runner interface {
	RunSession(ctx context.Context, trigger store.Trigger, instruction string) (*agent.SessionResult, error)
}

// Deps wires a Scheduler. Now is optional.
type Deps struct {
	Store    *store.Store
	Config   *config.Live
	Runner   Runner
	Mail     tools.Mail
	Calendar tools.Calendar
	Notifier tools.Notifier
	Cooldown *governor.Cooldown
	Now      func() time.Time
}

// Scheduler owns the background jobs. Each job class runs at most once at a
// time; a trigger that arrives while it is running is dropped.
type Scheduler struct {
	store    *store.Store
	cfg      *config.Live
	runner   Runner
	mail     tools.Mail
	calendar tools.Calendar
	notifier tools.Notifier
	cooldown *governor.Cooldown
	now      func() time.Time

	running map[string]*atomic.Bool

	mu       sync.Mutex
	primed   bool
	seenMail map[string]struct{}
	prepared map[string]time.Time
}

// New creates a scheduler.
func New(d Deps) *Scheduler {
	s := &Scheduler{
		store:    d.Store,
		cfg:      d.Config,
		runner:   d.Runner,
		mail:     d.Mail,
		calendar: d.Calendar,
		notifier: d.Notifier,
		cooldown: d.Cooldown,
		now:      d.Now,
		running:  make(map[string]*atomic.Bool),
		seenMail: make(map[string]struct{}),
		prepared: make(map[string]time.Time),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cooldown == nil {
		s.cooldown = governor.NewCooldown(s.now)
	}
	for _, job := range []string{JobMorningSweep, JobEveningSweep, JobGoalCheck, JobEmailWatch, JobMeetingWatch, JobManualRun} {
		s.running[job] = &atomic.Bool{}
	}
	return s
}

// Run drives every job until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.daily(ctx, JobMorningSweep, func(c *config.Config) string { return c.Schedule.MorningSweep }, s.MorningSweep)
	})
	g.Go(func() error {
		return s.daily(ctx, JobEveningSweep, func(c *config.Config) string { return c.Schedule.EveningSweep }, s.EveningSweep)
	})
	g.Go(func() error {
		return s.every(ctx, JobGoalCheck, false, func(c *config.Config) time.Duration {
			return time.Duration(c.Schedule.GoalCheckMinutes) * time.Minute
		}, s.CheckGoals)
	})
	if s.mail != nil {
		g.Go(func() error {
			return s.every(ctx, JobEmailWatch, true, func(c *config.Config) time.Duration {
				return time.Duration(c.Schedule.RefreshIntervalMinutes) * time.Minute
			}, s.WatchEmail)
		})
	}
	if s.calendar != nil {
		g.Go(func() error {
			return s.every(ctx, JobMeetingWatch, true, func(*config.Config) time.Duration {
				return meetingPollInterval
			}, s.WatchMeetings)
		})
	}

	internal.Logger().Info("scheduler started",
		zap.String("morning_sweep", s.cfg.Current().Schedule.MorningSweep),
		zap.String("evening_sweep", s.cfg.Current().Schedule.EveningSweep),
		zap.String("timezone", s.cfg.Current().User.Timezone))
	err := g.Wait()
	internal.Logger().Info("scheduler stopped")
	return err
}

// daily runs fn each day at the HH:MM returned by at, in the user's timezone.
// The time is re-read after every run so config reloads apply.
func (s *Scheduler) daily(ctx context.Context, job string, at func(*config.Config) string, fn func(context.Context) error) error {
	for {
		cfg := s.cfg.Current()
		hour, minute, err := config.ParseClock(at(cfg))
		if err != nil {
			return err
		}
		next := NextDaily(s.now(), hour, minute, cfg.Location())
		internal.Logger().Debug("next run scheduled", zap.String("job", job), zap.Time("at", next))
		if !sleep(ctx, next.Sub(s.now())) {
			return nil
		}
		s.runJob(ctx, job, fn)
	}
}

// every runs fn on a fixed interval, optionally once right away.
func (s *Scheduler) every(ctx context.Context, job string, immediate bool, interval func(*config.Config) time.Duration, fn func(context.Context) error) error {
	if immediate {
		s.runJob(ctx, job, fn)
	}
	for {
		d := interval(s.cfg.Current())
		if d <= 0 {
			d = time.Minute
		}
		if !sleep(ctx, d) {
			return nil
		}
		s.runJob(ctx, job, fn)
	}
}

// runJob runs fn under the job's overlap guard and records the outcome.
func (s *Scheduler) runJob(ctx context.Context, job string, fn func(context.Context) error) error {
	flag := s.running[job]
	if !flag.CompareAndSwap(false, true) {
		internal.Logger().Info("job still running, trigger dropped", zap.String("job", job))
		metrics.RecordJob(job, "skipped")
		return errSkipped
	}
	defer flag.Store(false)

	err := fn(ctx)
	switch {
	case err == nil:
		metrics.RecordJob(job, "ok")
	case internal.IsGateError(err):
		internal.Logger().Info("job refused by governor", zap.String("job", job), zap.Error(err))
		metrics.RecordJob(job, "gated")
	case ctx.Err() != nil:
		metrics.RecordJob(job, "cancelled")
	default:
		internal.Logger().Error("job failed", zap.String("job", job), zap.Error(err))
		metrics.RecordJob(job, "error")
	}
	return err
}

// NextDaily returns the first hour:minute in loc strictly after now.
func NextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// sleep waits for d or ctx, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunNow starts a manual session unless one was triggered within the
// configured cooldown.
func (s *Scheduler) RunNow(ctx context.Context, instruction string) (*agent.SessionResult, error) {
	cfg := s.cfg.Current()
	if err := s.cooldown.Try(RunNowKey, cfg.Agent.ManualRunCooldown); err != nil {
		metrics.RecordGateRejection("cooldown")
		return nil, err
	}
	if instruction == "" {
		instruction = agent.ManualInstruction(cfg.User.Name)
	}
	var res *agent.SessionResult
	err := s.runJob(ctx, JobManualRun, func(ctx context.Context) error {
		var err error
		res, err = s.runner.RunSession(ctx, store.TriggerManual, instruction)
		return err
	})
	if errors.Is(err, errSkipped) {
		return nil, &internal.GateError{Gate: "cooldown", Reason: "A manual session is already running"}
	}
	return res, err
}

func (s *Scheduler) notify(ctx context.Context, title, body string) {
	if s.notifier == nil {
		return
	}
	internal.BestEffort(ctx, "notification", func(ctx context.Context) error {
		return s.notifier.Notify(ctx, title, body)
	})
}
