package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/chief-of-staff/internal/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	return s, clock
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.CreateSession(ctx, "s1", TriggerManual, clock.Now()))
	require.NoError(t, s.AddSessionUsage(ctx, "s1", 1, 0.25))
	require.NoError(t, s.AddSessionUsage(ctx, "s1", 2, 0.5))

	clock.Advance(time.Minute)
	require.NoError(t, s.FinishSession(ctx, "s1", SessionCompleted, "done", "", clock.Now()))

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, sess.Status)
	assert.Equal(t, 3, sess.ToolCalls)
	assert.InDelta(t, 0.75, sess.TotalCostUSD, 1e-12)
	assert.Equal(t, "done", sess.Summary)
	require.NotNil(t, sess.CompletedAt)
	assert.True(t, sess.CompletedAt.Equal(clock.Now()))

	// Terminal sessions are immutable.
	err = s.FinishSession(ctx, "s1", SessionFailed, "", "late error", clock.Now())
	assert.ErrorIs(t, err, ErrSessionClosed)
	err = s.AddSessionUsage(ctx, "s1", 1, 1)
	assert.ErrorIs(t, err, ErrSessionClosed)

	sess, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, sess.Status)
	assert.Empty(t, sess.Error)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentSessionsAndStarts(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.CreateSession(ctx, "a", TriggerMorningSweep, clock.Now()))
	clock.Advance(time.Minute)
	require.NoError(t, s.CreateSession(ctx, "chat", TriggerChat, clock.Now()))
	clock.Advance(time.Minute)
	require.NoError(t, s.CreateSession(ctx, "b", TriggerManual, clock.Now()))

	recent, err := s.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, "a", recent[2].ID)

	starts, err := s.SessionStartsSince(ctx, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, starts, 2, "chat sessions do not count toward rate limits")

	id, err := s.LatestRunningSession(ctx, TriggerChat)
	require.NoError(t, err)
	assert.Equal(t, "chat", id)
}

func TestActionsAreOrdered(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	require.NoError(t, s.CreateSession(ctx, "s1", TriggerManual, clock.Now()))

	for _, name := range []string{"fetch_emails", "read_tasks", "send_email"} {
		_, err := s.LogAction(ctx, Action{SessionID: "s1", ToolName: name, Input: json.RawMessage(`{}`), Status: ActionExecuted})
		require.NoError(t, err)
	}

	actions, err := s.SessionActions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "fetch_emails", actions[0].ToolName)
	assert.Equal(t, "send_email", actions[2].ToolName)
	assert.JSONEq(t, `{}`, string(actions[0].Input))
}

func TestResolveApproval_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	require.NoError(t, s.CreateSession(ctx, "s1", TriggerManual, clock.Now()))

	a, err := s.CreateApproval(ctx, Approval{
		SessionID:  "s1",
		ActionType: "send_email",
		Title:      "Send email",
		Payload:    json.RawMessage(`{"to":"a@b.c"}`),
		Risk:       safety.RiskHigh,
	})
	require.NoError(t, err)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		already int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := ApprovalApproved
			if i%2 == 1 {
				status = ApprovalRejected
			}
			err := s.ResolveApproval(ctx, a.ID, status, nil, clock.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyResolved):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, already)

	pending, err := s.PendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = s.ResolveApproval(ctx, "nope", ApprovalApproved, nil, clock.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPendingApprovalsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	first, err := s.CreateApproval(ctx, Approval{SessionID: "s", ActionType: "send_email", Title: "one"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.CreateApproval(ctx, Approval{SessionID: "s", ActionType: "send_email", Title: "two"})
	require.NoError(t, err)

	pending, err := s.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, safety.RiskMedium, pending[0].Risk, "risk defaults to medium")
	assert.JSONEq(t, `{}`, string(pending[0].Payload))
}

func TestChatHistoryOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	// Same timestamp: insertion order must still hold.
	for _, content := range []string{"one", "two", "three"} {
		_, err := s.AppendChatMessage(ctx, ChatMessage{SessionID: "c", Role: RoleUser, Content: content})
		require.NoError(t, err)
	}

	history, err := s.ChatHistory(ctx, "c")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)
}

func TestMemoryUpsertAndPrune(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.SetMemory(ctx, MemoryJournal, "2026-03-01", "old"))
	clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, s.SetMemory(ctx, MemoryJournal, "2026-04-10", "new"))
	require.NoError(t, s.SetMemory(ctx, MemoryPending, "follow-up", "v1"))
	require.NoError(t, s.SetMemory(ctx, MemoryPending, "follow-up", "v2"))

	e, err := s.GetMemory(ctx, MemoryPending, "follow-up")
	require.NoError(t, err)
	assert.Equal(t, "v2", e.Value)

	journals, err := s.SearchMemory(ctx, MemoryJournal, 2)
	require.NoError(t, err)
	require.Len(t, journals, 2)
	assert.Equal(t, "new", journals[0].Value)

	removed, err := s.PruneMemory(ctx, clock.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	all, err := s.SearchMemory(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteMemory(ctx, MemoryPending, "follow-up"))
	_, err = s.GetMemory(ctx, MemoryPending, "follow-up")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCostSince(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.RecordCost(ctx, CostEntry{Model: "m", CostUSD: 1.5, Operation: "agent:manual"}))
	clock.Advance(25 * time.Hour)
	require.NoError(t, s.RecordCost(ctx, CostEntry{Model: "m", CostUSD: 0.25, Operation: "chat"}))
	require.NoError(t, s.RecordCost(ctx, CostEntry{Model: "n", CostUSD: 0.5, Operation: "chat"}))

	today, err := s.CostSince(ctx, StartOfDay(clock.Now()))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, today, 1e-12)

	sum, err := s.Summary(ctx, time.UTC)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, sum.Daily, 1e-12)
	assert.InDelta(t, 2.25, sum.Weekly, 1e-12)

	byModel, err := s.CostByModelSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, "m", byModel[0].Model)
	assert.Equal(t, 2, byModel[0].Calls)
}

func TestFeedbackStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, f := range []Feedback{
		{ActionType: "send_email", Outcome: OutcomeApproved, TimeToDecision: 2 * time.Second},
		{ActionType: "send_email", Outcome: OutcomeEditedThenApproved, WasEdited: true, TimeToDecision: 4 * time.Second},
		{ActionType: "send_email", Outcome: OutcomeRejected},
		{ActionType: "create_calendar_event", Outcome: OutcomeApproved},
	} {
		require.NoError(t, s.RecordFeedback(ctx, f))
	}

	st, err := s.FeedbackStats(ctx, "send_email")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Approved)
	assert.Equal(t, 1, st.Rejected)
	assert.Equal(t, 1, st.Edited)
	assert.InDelta(t, 1.0/3.0, st.EditRate, 1e-9)
	assert.Equal(t, 2*time.Second, st.AvgDecision)

	all, err := s.AllFeedbackStats(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, all["create_calendar_event"].Total)
}

func TestGoals(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.SeedDefaultGoals(ctx))
	require.NoError(t, s.SeedDefaultGoals(ctx))

	goals, err := s.Goals(ctx, true)
	require.NoError(t, err)
	require.Len(t, goals, 3)
	assert.Equal(t, "inbox_under_control", goals[0].ID)

	require.NoError(t, s.UpdateGoalStatus(ctx, "meetings_prepped", "checked", clock.Now()))
	g, err := s.GetGoal(ctx, "meetings_prepped")
	require.NoError(t, err)
	assert.Equal(t, "checked", g.LastStatus)
	require.NotNil(t, g.LastCheckedAt)

	require.NoError(t, s.SetGoalEnabled(ctx, "tasks_reviewed", false))
	active, err := s.Goals(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	assert.ErrorIs(t, s.UpdateGoalStatus(ctx, "nope", "x", clock.Now()), ErrNotFound)
}

func TestBriefings(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	_, err := s.LatestBriefing(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SaveBriefing(ctx, "Quiet morning", []byte(`{"headline":"Quiet morning"}`))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = s.SaveBriefing(ctx, "Board prep", []byte(`{"headline":"Board prep"}`))
	require.NoError(t, err)

	b, err := s.LatestBriefing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Board prep", b.Headline)
}

func TestTimeLayoutOrdersLexically(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	a := formatTime(base)
	b := formatTime(base.Add(500 * time.Millisecond))
	assert.Less(t, a, b)
	assert.True(t, parseTime(b).Equal(base.Add(500*time.Millisecond)))
}
