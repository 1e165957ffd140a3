package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSession_FinalAnswer(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.TextResponse("Inbox is quiet. Two meetings today.", 1000, 100),
		testutil.TextResponse("User prefers short summaries.", 200, 50),
	)
	h := newHarness(t, model, nil)
	ctx := context.Background()

	res, err := h.orch.RunSession(ctx, store.TriggerMorningSweep, "")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, res.Status)
	assert.Equal(t, "Inbox is quiet. Two meetings today.", res.Summary)
	assert.Equal(t, 1, res.Iterations)

	sess := h.session(t, res.SessionID)
	assert.Equal(t, store.SessionCompleted, sess.Status)
	assert.Equal(t, res.Summary, sess.Summary)
	require.NotNil(t, sess.CompletedAt)

	reqs := model.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "claude-opus-4-6", reqs[0].Model)
	assert.Equal(t, morningSweepInstruction, reqs[0].Messages[0].Content[0].Text)
	assert.Contains(t, reqs[0].System, "Trigger: morning_sweep")
	assert.Len(t, reqs[0].Tools, 17)
	assert.Equal(t, "claude-haiku-4-5-20251001", reqs[1].Model)
	assert.Equal(t, reflectionMaxTokens, reqs[1].MaxTokens)

	journal, err := h.store.GetMemory(ctx, store.MemoryJournal, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, res.Summary, journal.Value)

	reflection, err := h.store.GetMemory(ctx, store.MemoryReflection, "2026-03-02_morning_sweep")
	require.NoError(t, err)
	assert.Equal(t, "User prefers short summaries.", reflection.Value)

	// The reflection is billed to the ledger, not to the session.
	agentCost := (1000*15 + 100*75) / 1e6
	reflectionCost := (200*1 + 50*5) / 1e6
	assert.InDelta(t, agentCost, sess.TotalCostUSD, 1e-12)
	assert.InDelta(t, agentCost+reflectionCost, h.spentToday(t), 1e-12)

	ends := h.events.ofType(events.SessionEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, "completed", ends[0].Data["status"])
	require.Len(t, h.events.ofType(events.SessionStart), 1)
}

func TestRunSession_ToolCallsAreClassified(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.ToolUseResponse(500, 50,
			testutil.ToolCall{Name: "fetch_emails"},
			testutil.ToolCall{Name: "send_email", Args: `{"to_address":"ana@fund.example","to_name":"Ana","subject":"Hi","body":"Hello"}`},
			testutil.ToolCall{Name: "create_calendar_event", Args: `{"subject":"Sync","startDateTime":"2026-03-03T10:00:00","endDateTime":"2026-03-03T10:30:00"}`},
		),
		testutil.TextResponse("Done.", 600, 20),
		testutil.TextResponse("Nothing to remember.", 10, 10),
	)
	h := newHarness(t, model, func(c *config.Config) { c.Agent.AutonomyMode = config.ModeBalanced })
	h.sources.InboxEmails = testutil.SampleEmails(h.clock.Now())

	res, err := h.orch.RunSession(context.Background(), store.TriggerManual, "Check things")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToolCalls)
	assert.Equal(t, 1, res.Queued)

	actions := h.actions(t, res.SessionID)
	require.Len(t, actions, 3)
	assert.Equal(t, "fetch_emails", actions[0].ToolName)
	assert.Equal(t, store.ActionExecuted, actions[0].Status)
	assert.Equal(t, "send_email", actions[1].ToolName)
	assert.Equal(t, store.ActionPendingApproval, actions[1].Status)
	assert.Equal(t, "create_calendar_event", actions[2].ToolName)
	assert.Equal(t, store.ActionExecuted, actions[2].Status)

	pending, err := h.store.PendingApprovals(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "send_email", pending[0].ActionType)
	assert.Equal(t, "Agent wants to: send_email", pending[0].Title)
	assert.Equal(t, res.SessionID, pending[0].SessionID)
	assert.JSONEq(t, `{"to_address":"ana@fund.example","to_name":"Ana","subject":"Hi","body":"Hello"}`, string(pending[0].Payload))

	// Nothing was sent; the medium-risk event ran and was announced.
	assert.Zero(t, h.sources.Sends())
	assert.Len(t, h.sources.Created, 1)
	auto := h.events.ofType(events.AutoExecuted)
	require.Len(t, auto, 1)
	assert.Equal(t, "create_calendar_event", auto[0].Data["tool"])

	second := model.Requests()[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Len(t, (&llm.Response{Content: second[1].Content}).ToolUses(), 3)
	results := second[2].Content
	require.Len(t, results, 3)
	assert.Equal(t, "toolu_01", results[0].ToolUseID)
	assert.Contains(t, results[0].Content, "ana@fund.example")
	assert.Equal(t, QueuedMessage, results[1].Content)
	assert.False(t, results[1].IsError)
	assert.Contains(t, results[2].Content, "Calendar event created")

	sess := h.session(t, res.SessionID)
	assert.Equal(t, 3, sess.ToolCalls)
}

func TestRunSession_ToolErrorsAreFedBack(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.ToolUseResponse(100, 10,
			testutil.ToolCall{Name: "update_task", Args: `{"name":"x"}`},
			testutil.ToolCall{Name: "foo__bar"},
		),
		testutil.TextResponse("Could not finish.", 100, 10),
	)
	model.Fallback = testutil.TextResponse("", 1, 1)
	h := newHarness(t, model, func(c *config.Config) { c.Agent.AutonomyMode = config.ModeExecutive })

	res, err := h.orch.RunSession(context.Background(), store.TriggerManual, "Go")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, res.Status)

	actions := h.actions(t, res.SessionID)
	require.Len(t, actions, 2)
	assert.Equal(t, store.ActionError, actions[0].Status)
	assert.Equal(t, store.ActionError, actions[1].Status)

	results := model.Requests()[1].Messages[2].Content
	require.Len(t, results, 2)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "task_id is required")
	assert.True(t, results[1].IsError)
	assert.Equal(t, "Error: unknown tool: foo__bar", results[1].Content)
}

func TestRunSession_IterationCap(t *testing.T) {
	model := testutil.NewScriptedModel()
	model.Fallback = testutil.ToolUseResponse(10, 10,
		testutil.ToolCall{Name: "read_tasks"},
		testutil.ToolCall{Name: "read_tasks", ID: "toolu_02"},
	)
	h := newHarness(t, model, func(c *config.Config) { c.Agent.MaxToolCallsPerSession = 3 })

	res, err := h.orch.RunSession(context.Background(), store.TriggerManual, "Loop forever")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, res.Status)
	assert.Equal(t, MaxToolCallsSummary, res.Summary)
	assert.Equal(t, 3, res.ToolCalls)
	assert.Equal(t, 2, res.Iterations)

	sess := h.session(t, res.SessionID)
	assert.Equal(t, 3, sess.ToolCalls)
	assert.Equal(t, MaxToolCallsSummary, sess.Summary)
	assert.Len(t, h.actions(t, res.SessionID), 3)
}

func TestRunSession_CostIsSumOfCalls(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.ToolUseResponse(1000, 100, testutil.ToolCall{Name: "read_tasks"}),
		testutil.ToolUseResponse(2000, 300, testutil.ToolCall{Name: "read_tasks"}),
		testutil.TextResponse("All done.", 3000, 400),
	).ThenError(errors.New("reflection unavailable"))
	h := newHarness(t, model, nil)

	res, err := h.orch.RunSession(context.Background(), store.TriggerEveningSweep, "")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, res.Status)

	want := 0.0
	for _, u := range []llm.Usage{{InputTokens: 1000, OutputTokens: 100}, {InputTokens: 2000, OutputTokens: 300}, {InputTokens: 3000, OutputTokens: 400}} {
		want += (float64(u.InputTokens)*15 + float64(u.OutputTokens)*75) / 1_000_000
	}
	assert.InDelta(t, want, res.CostUSD, 1e-12)
	assert.InDelta(t, want, h.session(t, res.SessionID).TotalCostUSD, 1e-12)
	assert.InDelta(t, want, h.spentToday(t), 1e-12)

	_, err = h.store.GetMemory(context.Background(), store.MemoryReflection, "2026-03-02_evening_sweep")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunSession_ModelErrorFailsSession(t *testing.T) {
	model := testutil.NewScriptedModel().ThenError(errors.New("401 invalid x-api-key"))
	h := newHarness(t, model, nil)

	res, err := h.orch.RunSession(context.Background(), store.TriggerManual, "Go")
	var modelErr *internal.ModelError
	require.ErrorAs(t, err, &modelErr)
	require.NotNil(t, res)
	assert.Equal(t, store.SessionFailed, res.Status)

	sess := h.session(t, res.SessionID)
	assert.Equal(t, store.SessionFailed, sess.Status)
	assert.Contains(t, sess.Error, "401 invalid x-api-key")
	assert.Zero(t, h.spentToday(t))

	ends := h.events.ofType(events.SessionEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, "failed", ends[0].Data["status"])
}

func TestRunSession_CostGateCreatesNoSession(t *testing.T) {
	model := testutil.NewScriptedModel(testutil.TextResponse("unused", 1, 1))
	h := newHarness(t, model, nil)
	testutil.RecordCost(t, h.store, "claude-opus-4-6", 10.0)

	res, err := h.orch.RunSession(context.Background(), store.TriggerManual, "Go")
	assert.Nil(t, res)
	var gate *internal.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "cost", gate.Gate)
	assert.Contains(t, gate.Reason, "Daily cost limit reached")

	sessions, err := h.store.RecentSessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Zero(t, model.Calls())
}

func TestRunSession_RateGate(t *testing.T) {
	model := testutil.NewScriptedModel()
	model.Fallback = testutil.TextResponse("ok", 1, 1)
	h := newHarness(t, model, func(c *config.Config) { c.Agent.MaxSessionsPerHour = 1 })

	_, err := h.orch.RunSession(context.Background(), store.TriggerManual, "first")
	require.NoError(t, err)

	_, err = h.orch.RunSession(context.Background(), store.TriggerManual, "second")
	var gate *internal.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "rate", gate.Gate)

	sessions, err := h.store.RecentSessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
