package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"go.uber.org/zap"
)

// Goal statuses written by the checker.
const (
	GoalChecking     = "checking"
	GoalChecked      = "checked"
	GoalPendingSweep = "pending_sweep"
	goalErrorPrefix  = "error: "
	goalErrorChars   = 100
)

// Thresholds of the email watcher.
const (
	newMailThreshold = 3
	subjectsChars    = 100
)

// MorningSweep runs the morning sweep session.
func (s *Scheduler) MorningSweep(ctx context.Context) error {
	return s.sweep(ctx, store.TriggerMorningSweep, "Morning Sweep", "Reviewing your inbox, calendar and tasks for today.")
}

// EveningSweep runs the evening sweep session.
func (s *Scheduler) EveningSweep(ctx context.Context) error {
	return s.sweep(ctx, store.TriggerEveningSweep, "Evening Sweep", "Wrapping up today and looking at tomorrow.")
}

func (s *Scheduler) sweep(ctx context.Context, trigger store.Trigger, title, body string) error {
	s.notify(ctx, title, body)
	s.markSweepGoals(ctx)
	_, err := s.runner.RunSession(ctx, trigger, agent.DefaultInstruction(trigger))
	return err
}

// markSweepGoals flags on_sweep goals so the sweep session picks them up.
func (s *Scheduler) markSweepGoals(ctx context.Context) {
	goals := internal.BestEffortValue(ctx, "list sweep goals", func(ctx context.Context) ([]store.Goal, error) {
		return s.store.Goals(ctx, true)
	})
	for _, g := range goals {
		if g.Schedule != store.ScheduleOnSweep {
			continue
		}
		id := g.ID
		internal.BestEffort(ctx, "mark sweep goal", func(ctx context.Context) error {
			return s.store.UpdateGoalStatus(ctx, id, GoalPendingSweep, s.now())
		})
	}
}

// GoalDue reports whether g should be checked at now.
func GoalDue(g store.Goal, now time.Time) bool {
	if g.Schedule == store.ScheduleOnSweep {
		return false
	}
	if g.LastCheckedAt == nil {
		return true
	}
	elapsed := now.Sub(*g.LastCheckedAt)
	switch g.Schedule {
	case store.ScheduleEvery15Min:
		return elapsed > 15*time.Minute
	default:
		return elapsed > time.Hour
	}
}

// CheckGoals runs one focused session for every enabled goal that is due.
// A gate refusal stops the pass; other session failures are recorded on the
// goal and the pass continues.
func (s *Scheduler) CheckGoals(ctx context.Context) error {
	goals, err := s.store.Goals(ctx, true)
	if err != nil {
		return err
	}
	for _, g := range goals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !GoalDue(g, s.now()) {
			continue
		}
		if err := s.checkGoal(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) checkGoal(ctx context.Context, g store.Goal) error {
	log := internal.Logger().With(zap.String("goal_id", g.ID))
	if err := s.store.UpdateGoalStatus(ctx, g.ID, GoalChecking, s.now()); err != nil {
		return err
	}

	_, err := s.runner.RunSession(ctx, store.TriggerManual, agent.GoalCheckInstruction(g))
	status := GoalChecked
	if err != nil {
		log.Warn("goal check failed", zap.Error(err))
		status = goalErrorPrefix + truncate(err.Error(), goalErrorChars)
	}
	internal.BestEffort(context.WithoutCancel(ctx), "record goal status", func(ctx context.Context) error {
		return s.store.UpdateGoalStatus(ctx, g.ID, status, s.now())
	})
	// Once the governor refuses, the remaining goals would be refused too.
	if internal.IsGateError(err) {
		return err
	}
	return nil
}

// WatchEmail polls the inbox. The first pass only records what is already
// there. Later passes react to new high-importance mail with a notification
// and an importance_spike session, or to a batch of new unread mail with a
// notification alone.
func (s *Scheduler) WatchEmail(ctx context.Context) error {
	cfg := s.cfg.Current()
	emails, err := s.mail.Inbox(ctx, cfg.Email.MaxEmails)
	if err != nil {
		return fmt.Errorf("failed to poll inbox: %w", err)
	}

	s.mu.Lock()
	var fresh []tools.Email
	for _, e := range emails {
		if _, ok := s.seenMail[e.ID]; ok {
			continue
		}
		s.seenMail[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	primed := s.primed
	s.primed = true
	s.mu.Unlock()

	if !primed || len(fresh) == 0 {
		return nil
	}

	var important, unread []tools.Email
	for _, e := range fresh {
		if strings.EqualFold(e.Importance, "high") {
			important = append(important, e)
		}
		if !e.IsRead && tools.ClassifyEmail(e, cfg) != tools.ClassNoise {
			unread = append(unread, e)
		}
	}

	switch {
	case len(important) > 0:
		subjects := make([]string, 0, len(important))
		for _, e := range important {
			subjects = append(subjects, e.Subject)
		}
		s.notify(ctx, "Important Email Detected",
			fmt.Sprintf("%d high-priority email(s): %s", len(important), truncate(strings.Join(subjects, ", "), subjectsChars)))
		_, err := s.runner.RunSession(ctx, store.TriggerImportanceSpike, agent.ImportantMailInstruction(important, cfg.User.Name))
		return err
	case len(unread) >= newMailThreshold:
		s.notify(ctx, "New Emails", fmt.Sprintf("%d new emails need attention", len(unread)))
	}
	return nil
}

// WatchMeetings starts a meeting_prep session once per event when its prep
// window opens.
func (s *Scheduler) WatchMeetings(ctx context.Context) error {
	cfg := s.cfg.Current()
	if !cfg.MeetingPrep.Enabled {
		return nil
	}
	lead := time.Duration(cfg.MeetingPrep.MinutesBefore) * time.Minute
	now := s.now()

	events, err := s.calendar.Events(ctx, now, now.Add(lead+meetingPollInterval))
	if err != nil {
		return fmt.Errorf("failed to poll calendar: %w", err)
	}

	var errs []error
	for _, e := range events {
		if e.IsAllDay || !e.Start.After(now) || now.Before(e.Start.Add(-lead)) {
			continue
		}
		if !s.claimMeeting(e, now) {
			continue
		}

		minutes := int(math.Ceil(e.Start.Sub(now).Minutes()))
		body := fmt.Sprintf("Starting in %d minutes", minutes)
		if len(e.Attendees) > 0 {
			body += " with " + strings.Join(e.Attendees, ", ")
		}
		s.notify(ctx, "Meeting Prep: "+e.Title, body)

		if _, err := s.runner.RunSession(ctx, store.TriggerMeetingPrep, agent.MeetingPrepInstruction(e, cfg.Location())); err != nil {
			errs = append(errs, fmt.Errorf("meeting %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// claimMeeting marks e as prepared, reporting false if it already was.
// Entries for meetings that have started are dropped.
func (s *Scheduler) claimMeeting(e tools.Event, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, start := range s.prepared {
		if start.Before(now) {
			delete(s.prepared, id)
		}
	}
	if _, ok := s.prepared[e.ID]; ok {
		return false
	}
	s.prepared[e.ID] = e.Start
	return true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
