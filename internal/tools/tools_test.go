package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/provider"
	"github.com/iksnae/chief-of-staff/internal/safety"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMail struct {
	mu    sync.Mutex
	inbox []Email
	sent  []Email
}

func (m *fakeMail) Inbox(context.Context, int) ([]Email, error) { return m.inbox, nil }
func (m *fakeMail) Sent(context.Context, int) ([]Email, error)  { return nil, nil }
func (m *fakeMail) Send(_ context.Context, toAddress, toName, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Email{FromAddress: toAddress, FromName: toName, Subject: subject, Body: body})
	return nil
}

type fakeDrafter struct{ content string }

func (f fakeDrafter) DraftReply(_ context.Context, _ string, e Email, _ string) (*Draft, error) {
	if f.content == "" {
		return nil, nil
	}
	return &Draft{EmailID: e.ID, Content: f.content, Confidence: 0.8}, nil
}

type fakeProviders struct {
	tools  []provider.Tool
	calls  []string
	result string
	err    error
}

func (f *fakeProviders) Has(name string) bool {
	for _, t := range f.tools {
		if t.Provider == name {
			return true
		}
	}
	return false
}

func (f *fakeProviders) Tools(context.Context) []provider.Tool { return f.tools }

func (f *fakeProviders) ProviderTools(_ context.Context, name string) ([]provider.Tool, error) {
	var out []provider.Tool
	for _, t := range f.tools {
		if t.Provider == name {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeProviders) Call(_ context.Context, p, tool string, args []byte) (string, error) {
	f.calls = append(f.calls, provider.QualifiedName(p, tool)+" "+string(args))
	return f.result, f.err
}

type harness struct {
	store     *store.Store
	mail      *fakeMail
	providers *fakeProviders
	registry  *Registry
	disp      *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		store: s,
		mail:  &fakeMail{},
		providers: &fakeProviders{tools: []provider.Tool{
			{Provider: "things", Name: "things_add_task", InputSchema: json.RawMessage(`{"type":"object","required":["title"]}`)},
			{Provider: "things", Name: "mystery"},
		}},
	}
	deps := Deps{
		Store:   s,
		Config:  config.Static(config.Default()),
		Mail:    h.mail,
		Drafter: fakeDrafter{content: "Thanks, will do."},
		Now:     func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	}
	h.registry, err = NewRegistry(Builtins(deps), h.providers)
	require.NoError(t, err)
	h.disp = NewDispatcher(h.registry)
	return h
}

func TestSchemaFromArgs(t *testing.T) {
	raw, _ := schemaFor(typeOf[createEventArgs]())
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(raw, &schema))

	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"subject", "startDateTime", "endDateTime"}, schema.Required)
	assert.Equal(t, "array", schema.Properties["attendees"]["type"])
	assert.Equal(t, "boolean", schema.Properties["isOnlineMeeting"]["type"])
	assert.Equal(t, "Event location (optional)", schema.Properties["location"]["description"])

	raw, _ = schemaFor(typeOf[noArgs]())
	assert.JSONEq(t, `{"type":"object","properties":{},"required":[]}`, string(raw))
}

func TestRegistryList(t *testing.T) {
	h := newHarness(t)
	specs := h.registry.List(context.Background())

	require.Len(t, specs, 19)
	assert.Equal(t, "fetch_emails", specs[0].Name)
	assert.Equal(t, "update_goal_status", specs[16].Name)
	assert.Equal(t, "things__things_add_task", specs[17].Name)
	assert.Equal(t, safety.RiskMedium, specs[17].Risk)
	assert.Equal(t, safety.RiskHigh, specs[18].Risk, "unmapped provider tools fail closed")
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(specs[18].InputSchema))

	for _, s := range specs[:17] {
		assert.True(t, json.Valid(s.InputSchema), s.Name)
	}

	_, err := NewRegistry([]Tool{h.registry.builtins[0], h.registry.builtins[0]}, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		tool  string
		args  string
		field string
	}{
		{"missing required", "send_email", `{"to_address":"a@b.c","to_name":"A","subject":"s"}`, "body"},
		{"empty string", "send_email", `{"to_address":"","to_name":"A","subject":"s","body":"b"}`, "to_address"},
		{"null value", "update_memory", `{"category":"c","key":null,"value":"v"}`, "key"},
		{"wrong type", "fetch_emails", `{"limit":"ten"}`, "limit"},
		{"bad date", "create_calendar_event", `{"subject":"s","startDateTime":"soon","endDateTime":"2026-03-02T10:00:00"}`, "startDateTime"},
		{"end before start", "create_calendar_event", `{"subject":"s","startDateTime":"2026-03-02T10:00:00","endDateTime":"2026-03-02T09:00:00"}`, "endDateTime"},
		{"provider required", "things__things_add_task", `{}`, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.disp.Validate(ctx, tt.tool, json.RawMessage(tt.args))
			var v *internal.ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.field, v.Field)
			assert.Equal(t, tt.tool, v.Tool)
		})
	}

	assert.NoError(t, h.disp.Validate(ctx, "send_email", json.RawMessage(`{"to_address":"a@b.c","to_name":"A","subject":"s","body":"b"}`)))
	assert.NoError(t, h.disp.Validate(ctx, "fetch_calendar", nil))

	var v *internal.ValidationError
	assert.ErrorAs(t, h.disp.Validate(ctx, "send_email", json.RawMessage(`[1,2]`)), &v)
	assert.ErrorAs(t, h.disp.Validate(ctx, "update_task", json.RawMessage(`{"task_id":"t1"}`)), &v)

	var unknown *internal.UnknownToolError
	assert.ErrorAs(t, h.disp.Validate(ctx, "nope", nil), &unknown)
	assert.ErrorAs(t, h.disp.Validate(ctx, "things__missing", nil), &unknown)
}

func TestExecuteBuiltin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.disp.Execute(ctx, "send_email", json.RawMessage(`{"to_address":"a@b.c","to_name":"A","subject":"Hi","body":"Hello"}`), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Email sent successfully.", out)
	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, "Hi", h.mail.sent[0].Subject)

	out, err = h.disp.Execute(ctx, "update_memory", json.RawMessage(`{"category":"contact","key":"ana","value":"prefers mornings"}`), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Memory updated: contact/ana", out)

	out, err = h.disp.Execute(ctx, "read_memory", json.RawMessage(`{"category":"contact","key":"ana"}`), "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "prefers mornings")

	out, err = h.disp.Execute(ctx, "read_memory", json.RawMessage(`{"category":"contact","key":"bob"}`), "s1")
	require.NoError(t, err)
	assert.Equal(t, "No memory found for this key.", out)

	_, err = h.disp.Execute(ctx, "read_tasks", nil, "s1")
	var toolErr *internal.ToolError
	require.ErrorAs(t, err, &toolErr, "missing task source is a tool error")
	assert.Equal(t, "read_tasks", toolErr.Tool)
}

func TestFetchEmailsClassifies(t *testing.T) {
	h := newHarness(t)
	h.mail.inbox = []Email{
		{ID: "1", FromName: "Deals", FromAddress: "newsletter@shop.com", Subject: "Sale"},
		{ID: "2", FromName: "Ana", FromAddress: "ana@fund.vc", Subject: "Term sheet", Importance: "high"},
		{ID: "3", FromName: "Bob", FromAddress: "bob@example.com", Subject: "Lunch?"},
	}
	out, err := h.disp.Execute(context.Background(), "fetch_emails", nil, "s1")
	require.NoError(t, err)

	var got []struct {
		ID             string `json:"id"`
		From           string `json:"from"`
		Classification string `json:"classification"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 3)
	assert.Equal(t, ClassNoise, got[0].Classification)
	assert.Equal(t, ClassImportant, got[1].Classification)
	assert.Equal(t, ClassNormal, got[2].Classification)
	assert.Equal(t, "Ana <ana@fund.vc>", got[1].From)
}

func TestDraftReplyQueuesApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.disp.Execute(ctx, "draft_reply", json.RawMessage(`{
		"email_id":"e1","from_name":"Ana","from_address":"ana@fund.vc",
		"subject":"RE: Term sheet","body":"Can we talk Friday?"}`), "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued for your review")

	pending, err := h.store.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	a := pending[0]
	assert.Equal(t, "send_email", a.ActionType)
	assert.Equal(t, "Reply to: RE: Term sheet", a.Title)
	assert.Equal(t, safety.RiskMedium, a.Risk)
	assert.JSONEq(t, `{"to_address":"ana@fund.vc","to_name":"Ana","subject":"Re: Term sheet","body":"Thanks, will do."}`, string(a.Payload))
	assert.NoError(t, h.disp.Validate(ctx, a.ActionType, a.Payload), "queued payload satisfies send_email")

	sess, err := h.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionRunning, sess.Status)
}

func TestRequestHumanReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.disp.Execute(ctx, "request_human_review", json.RawMessage(`{
		"action_type":"delete_task","title":"Remove stale task","description":"It is done",
		"data":{"task_id":"t9"}}`), "s2")
	require.NoError(t, err)
	assert.Contains(t, out, QueuedForReview)

	pending, err := h.store.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"task_id":"t9"}`, string(pending[0].Payload))
	assert.True(t, pending[0].ReviewOnly)
}

func TestExecuteProviderTool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.providers.result = "added"

	out, err := h.disp.Execute(ctx, "things__things_add_task", json.RawMessage(`{"title":"x"}`), "s1")
	require.NoError(t, err)
	assert.Equal(t, "added", out)
	assert.Equal(t, []string{`things__things_add_task {"title":"x"}`}, h.providers.calls)

	h.providers.err = errors.New("connection refused")
	_, err = h.disp.Execute(ctx, "things__things_add_task", json.RawMessage(`{"title":"x"}`), "s1")
	var toolErr *internal.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "things__things_add_task", toolErr.Tool)

	var unknown *internal.UnknownToolError
	_, err = h.disp.Execute(ctx, "granola__get_meeting", nil, "s1")
	assert.ErrorAs(t, err, &unknown, "unconfigured provider")
	_, err = h.disp.Execute(ctx, "bogus", nil, "s1")
	assert.ErrorAs(t, err, &unknown)
}

func TestDispatchOutcome(t *testing.T) {
	h := newHarness(t)

	o, err := h.disp.Dispatch(context.Background(), "bogus", nil, "s1")
	require.NoError(t, err)
	assert.True(t, o.Failed())
	assert.Equal(t, "Error: unknown tool: bogus", o.Text())

	o, err = h.disp.Dispatch(context.Background(), "update_goal_status", json.RawMessage(`{"goal_id":"none","status":"ok"}`), "s1")
	require.NoError(t, err)
	assert.True(t, o.Failed(), "storage not-found inside a tool is a tool error")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.providers.err = context.Canceled
	_, err = h.disp.Dispatch(ctx, "things__things_add_task", json.RawMessage(`{"title":"x"}`), "s1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyEmail(t *testing.T) {
	cfg := config.Default()
	cfg.VIPContacts = []config.VIPContact{{Pattern: "@fund.vc", Label: "Investors"}}

	tests := []struct {
		email Email
		want  string
	}{
		{Email{FromAddress: "no-reply@service.io", Subject: "Receipt"}, ClassNoise},
		{Email{FromAddress: "ana@fund.vc", Subject: "Unsubscribe here"}, ClassNoise},
		{Email{FromAddress: "ana@fund.vc", Subject: "Update"}, ClassImportant},
		{Email{FromAddress: "x@y.z", Subject: "FYI", Importance: "High"}, ClassImportant},
		{Email{FromAddress: "x@y.z", Subject: "FYI"}, ClassNormal},
	}
	for _, tt := range tests {
		t.Run(tt.email.FromAddress+"/"+tt.email.Subject, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEmail(tt.email, cfg))
		})
	}
}
