package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTranscript(t *testing.T) {
	calls := []llm.ContentBlock{
		llm.TextBlock("Let me look."),
		llm.ToolUseBlock("toolu_01", "read_tasks", json.RawMessage(`{}`)),
	}
	results := []llm.ContentBlock{llm.ToolResultBlock("toolu_01", "[]", false)}
	callsJSON, err := json.Marshal(calls)
	require.NoError(t, err)
	resultsJSON, err := json.Marshal(results)
	require.NoError(t, err)

	rows := []store.ChatMessage{
		{ID: "1", Role: store.RoleUser, Content: "What is due today?"},
		{ID: "2", Role: store.RoleToolResult, Content: string(resultsJSON), ToolCalls: callsJSON},
		{ID: "3", Role: store.RoleAssistant, Content: "Nothing is due."},
		{ID: "4", Role: store.RoleAssistant, Content: ""},
		{ID: "5", Role: store.RoleUser, Content: "Thanks"},
		{ID: "6", Role: store.RoleUser, Content: "Anything else?"},
	}

	got, err := BuildTranscript(rows)
	require.NoError(t, err)

	want := []llm.Message{
		llm.UserText("What is due today?"),
		{Role: llm.RoleAssistant, Content: calls},
		{Role: llm.RoleUser, Content: results},
		{Role: llm.RoleAssistant, Content: []llm.ContentBlock{llm.TextBlock("Nothing is due.")}},
		{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.TextBlock("Thanks"), llm.TextBlock("Anything else?")}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildTranscript() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTranscript_CorruptToolRow(t *testing.T) {
	_, err := BuildTranscript([]store.ChatMessage{
		{ID: "bad", Role: store.RoleToolResult, Content: "[]", ToolCalls: json.RawMessage(`not json`)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestSendChatMessage_ToolRoundTrip(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.ToolUseResponse(100, 20, testutil.ToolCall{Name: "read_tasks"}),
		testutil.TextResponse("You have two tasks.", 200, 30),
		testutil.TextResponse("Anytime.", 300, 5),
	)
	h := newHarness(t, model, nil)
	h.sources.TaskList = testutil.SampleTasks()
	ctx := context.Background()

	id, err := h.orch.EnsureChatSession(ctx, "")
	require.NoError(t, err)

	reply, err := h.orch.SendChatMessage(ctx, id, "What's on my list?")
	require.NoError(t, err)
	assert.Equal(t, "You have two tasks.", reply)

	var streamed strings.Builder
	for _, e := range h.events.ofType(events.ChatChunk) {
		streamed.WriteString(e.Data["text"].(string))
	}
	assert.Equal(t, "You have two tasks.", streamed.String())

	toolEvents := h.events.ofType(events.ChatToolCall)
	require.Len(t, toolEvents, 2)
	assert.Equal(t, ToolStart, toolEvents[0].Data["status"])
	assert.Equal(t, ToolDone, toolEvents[1].Data["status"])
	assert.Contains(t, toolEvents[1].Data["result"], "Review board deck")
	assert.Len(t, h.events.ofType(events.ChatDone), 1)

	history, err := h.orch.ChatHistory(ctx, id)
	require.NoError(t, err)
	roles := make([]store.ChatRole, 0, len(history))
	for _, m := range history {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []store.ChatRole{store.RoleUser, store.RoleToolResult, store.RoleAssistant}, roles)

	sess := h.session(t, id)
	assert.Equal(t, store.SessionRunning, sess.Status)
	assert.Equal(t, 1, sess.ToolCalls)
	assert.Greater(t, sess.TotalCostUSD, 0.0)
	assert.Equal(t, "claude-sonnet-4-5-20250929", model.Requests()[0].Model)
	assert.True(t, model.Requests()[0].Stream)

	// The next turn replays the whole conversation, tool round trip included.
	reply, err = h.orch.SendChatMessage(ctx, id, "Thanks")
	require.NoError(t, err)
	assert.Equal(t, "Anytime.", reply)

	msgs := model.Requests()[2].Messages
	require.Len(t, msgs, 5)
	wantRoles := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	for i, m := range msgs {
		assert.Equal(t, wantRoles[i], m.Role, "message %d", i)
	}
	assert.Equal(t, llm.BlockToolUse, msgs[1].Content[0].Type)
	assert.Equal(t, llm.BlockToolResult, msgs[2].Content[0].Type)
	assert.Equal(t, "toolu_01", msgs[2].Content[0].ToolUseID)
	assert.Equal(t, "Thanks", msgs[4].Content[0].Text)
}

func TestSendChatMessage_HighRiskToolIsQueued(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.ToolUseResponse(10, 10, testutil.ToolCall{
			Name: "send_email",
			Args: `{"to_address":"bob@example.com","to_name":"Bob","subject":"Lunch","body":"Sure"}`,
		}),
		testutil.TextResponse("I queued the reply for your approval.", 10, 10),
	)
	h := newHarness(t, model, nil)
	ctx := context.Background()

	id, err := h.orch.EnsureChatSession(ctx, "")
	require.NoError(t, err)
	_, err = h.orch.SendChatMessage(ctx, id, "Tell Bob yes")
	require.NoError(t, err)

	assert.Zero(t, h.sources.Sends())
	pending, err := h.store.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Chat: send_email", pending[0].Title)

	toolEvents := h.events.ofType(events.ChatToolCall)
	require.Len(t, toolEvents, 2)
	assert.Contains(t, toolEvents[1].Data["result"], "Queued for approval")

	results := model.Requests()[1].Messages[2].Content
	require.Len(t, results, 1)
	assert.Equal(t, chatQueuedMessage, results[0].Content)
}

func TestSendChatMessage_Validation(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedModel(), func(c *config.Config) { c.Agent.MaxChatMessageChars = 5 })
	ctx := context.Background()

	tests := []struct {
		name    string
		session string
		text    string
		reason  string
	}{
		{"no session", "", "hi", "is required"},
		{"empty", "chat-1", "   ", "must not be empty"},
		{"too long", "chat-1", "ñandú!", "is too long (6 characters, max 5)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.SendChatMessage(ctx, tt.session, tt.text)
			var validation *internal.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.reason, validation.Reason)
		})
	}
	assert.Zero(t, h.model.Calls())
}

func TestSendChatMessage_ModelErrorIsInline(t *testing.T) {
	model := testutil.NewScriptedModel().ThenError(errors.New("overloaded"))
	h := newHarness(t, model, nil)
	ctx := context.Background()

	reply, err := h.orch.SendChatMessage(ctx, "chat-1", "Hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "Error: "), reply)
	assert.Contains(t, reply, "overloaded")

	history, err := h.orch.ChatHistory(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, reply, history[1].Content)

	done := h.events.ofType(events.ChatDone)
	require.Len(t, done, 1)
	assert.Contains(t, done[0].Data["error"], "overloaded")
}

func TestEnsureAndClearChat(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedModel(), nil)
	ctx := context.Background()

	first, err := h.orch.EnsureChatSession(ctx, "")
	require.NoError(t, err)
	again, err := h.orch.EnsureChatSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	named, err := h.orch.EnsureChatSession(ctx, "chat-named")
	require.NoError(t, err)
	assert.Equal(t, "chat-named", named)

	fresh, err := h.orch.ClearChat(ctx, first)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)

	old := h.session(t, first)
	assert.Equal(t, store.SessionCompleted, old.Status)
	assert.Equal(t, chatClearedNote, old.Summary)
	assert.Equal(t, store.SessionRunning, h.session(t, fresh).Status)

	// Clearing twice is harmless.
	_, err = h.orch.ClearChat(ctx, first)
	require.NoError(t, err)

	current, err := h.orch.CurrentChatSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, current)
}

func TestEnsureChatSession_RejectsClosedAndAutonomous(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedModel(), nil)
	ctx := context.Background()
	testutil.CreateSession(t, h.store, h.clock, "sweep-1", store.TriggerMorningSweep)

	first, err := h.orch.EnsureChatSession(ctx, "")
	require.NoError(t, err)
	_, err = h.orch.ClearChat(ctx, first)
	require.NoError(t, err)

	var validation *internal.ValidationError
	_, err = h.orch.EnsureChatSession(ctx, first)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "session_id", validation.Field)

	_, err = h.orch.EnsureChatSession(ctx, "sweep-1")
	require.ErrorAs(t, err, &validation)

	// Closed chats stay readable; autonomous sessions are not chats.
	_, err = h.orch.ChatHistory(ctx, first)
	require.NoError(t, err)
	_, err = h.orch.ChatHistory(ctx, "sweep-1")
	require.ErrorAs(t, err, &validation)
	_, err = h.orch.ChatHistory(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
