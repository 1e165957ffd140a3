package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/store"
	"gopkg.in/yaml.v3"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestNewExporter(t *testing.T) {
	tests := []struct {
		format  string
		wantExt string
		wantErr bool
	}{
		{"jsonl", "jsonl", false},
		{"md", "md", false},
		{"markdown", "md", false},
		{"yaml", "yaml", false},
		{"yml", "yaml", false},
		{"json", "json", false},
		{"xml", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exporter, err := NewExporter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExporter(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
			if tt.wantErr {
				if exporter != nil {
					t.Errorf("NewExporter(%q) returned %T, want nil", tt.format, exporter)
				}
				return
			}
			if got := exporter.Extension(); got != tt.wantExt {
				t.Errorf("Extension() = %q, want %q", got, tt.wantExt)
			}
		})
	}
}

func TestTranscript_AutonomousSession(t *testing.T) {
	done := t0.Add(2 * time.Minute)
	sess := &store.Session{
		ID:           "s-1",
		Trigger:      store.TriggerMorningSweep,
		Status:       store.SessionCompleted,
		StartedAt:    t0,
		CompletedAt:  &done,
		Summary:      "Triaged 4 emails.",
		ToolCalls:    2,
		TotalCostUSD: 0.031,
	}
	actions := []store.Action{
		{ToolName: "read_inbox", Input: json.RawMessage(`{}`), Output: "4 emails", Status: store.ActionExecuted, CreatedAt: t0.Add(10 * time.Second)},
		{ToolName: "send_email", Input: json.RawMessage(`{"to_address":"ana@fund.example"}`), Status: store.ActionPendingApproval, CreatedAt: t0.Add(20 * time.Second)},
	}
	chat := []store.ChatMessage{{Role: store.RoleUser, Content: "ignored"}}

	got := Transcript(sess, actions, chat)
	want := &internal.Session{
		ID:      "s-1",
		Trigger: "morning_sweep",
		Status:  "completed",
		Summary: "Triaged 4 emails.",
		Messages: []internal.Message{
			{Timestamp: "2026-03-02T09:00:10Z", Actor: ActorAgent, Tool: "read_inbox", Status: "executed", Content: "4 emails"},
			{Timestamp: "2026-03-02T09:00:20Z", Actor: ActorAgent, Tool: "send_email", Status: "pending_approval", Content: `{"to_address":"ana@fund.example"}`},
		},
		Metadata: internal.Metadata{
			StartedAt:    "2026-03-02T09:00:00Z",
			CompletedAt:  "2026-03-02T09:02:00Z",
			MessageCount: 2,
			ToolCalls:    2,
			CostUSD:      0.031,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Transcript() mismatch (-want +got):\n%s", diff)
	}
}

func TestTranscript_ChatSession(t *testing.T) {
	calls, _ := json.Marshal([]llm.ContentBlock{
		llm.TextBlock("Checking."),
		llm.ToolUseBlock("toolu_01", "read_tasks", json.RawMessage(`{}`)),
		llm.ToolUseBlock("toolu_02", "read_calendar", json.RawMessage(`{}`)),
	})
	results, _ := json.Marshal([]llm.ContentBlock{
		llm.ToolResultBlock("toolu_01", "2 tasks", false),
		llm.ToolResultBlock("toolu_02", "calendar unavailable", true),
	})
	sess := &store.Session{ID: "c-1", Trigger: store.TriggerChat, Status: store.SessionRunning, StartedAt: t0}
	chat := []store.ChatMessage{
		{Role: store.RoleUser, Content: "What's today?", CreatedAt: t0},
		{Role: store.RoleToolResult, Content: string(results), ToolCalls: calls, CreatedAt: t0},
		{Role: store.RoleAssistant, Content: "", CreatedAt: t0},
		{Role: store.RoleAssistant, Content: "Two tasks.", CreatedAt: t0},
		{Role: store.RoleToolResult, Content: "[]", ToolCalls: json.RawMessage(`oops`), CreatedAt: t0},
	}
	actions := []store.Action{{ToolName: "read_tasks", Status: store.ActionExecuted}}

	got := Transcript(sess, actions, chat).Messages
	ts := "2026-03-02T09:00:00Z"
	want := []internal.Message{
		{Timestamp: ts, Actor: ActorUser, Content: "What's today?"},
		{Timestamp: ts, Actor: ActorTool, Tool: "read_tasks", Status: "ok", Content: "2 tasks"},
		{Timestamp: ts, Actor: ActorTool, Tool: "read_calendar", Status: "error", Content: "calendar unavailable"},
		{Timestamp: ts, Actor: ActorAssistant, Content: "Two tasks."},
		{Timestamp: ts, Actor: ActorTool, Status: "unreadable", Content: "[]"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Transcript() mismatch (-want +got):\n%s", diff)
	}
}

func TestExporters(t *testing.T) {
	session := internal.CreateTestSession("chat-7")
	session.Summary = "Calendar **review**"
	session.Messages = append(session.Messages, internal.Message{
		Actor: ActorTool, Tool: "read_calendar", Status: "ok", Content: "```\n**raw**\n```",
	})

	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"json", func(t *testing.T, out string) {
			var back internal.Session
			if err := json.Unmarshal([]byte(out), &back); err != nil {
				t.Fatalf("output is not valid JSON: %v", err)
			}
			if back.ID != "chat-7" || len(back.Messages) != 3 {
				t.Errorf("round trip lost data: %+v", back)
			}
			if !strings.Contains(out, "\n  ") {
				t.Error("output should be indented")
			}
		}},
		{"yaml", func(t *testing.T, out string) {
			var back internal.Session
			if err := yaml.Unmarshal([]byte(out), &back); err != nil {
				t.Fatalf("output is not valid YAML: %v", err)
			}
			if back.Messages[2].Tool != "read_calendar" {
				t.Errorf("tool = %q, want read_calendar", back.Messages[2].Tool)
			}
		}},
		{"jsonl", func(t *testing.T, out string) {
			lines := strings.Split(strings.TrimSpace(out), "\n")
			if len(lines) != 3 {
				t.Fatalf("got %d lines, want 3", len(lines))
			}
			for _, want := range []string{`"session_id":"chat-7"`, `"actor":"user"`} {
				if !strings.Contains(lines[0], want) {
					t.Errorf("first line %s missing %s", lines[0], want)
				}
			}
			if !strings.Contains(lines[2], `"tool":"read_calendar"`) {
				t.Errorf("last line missing tool: %s", lines[2])
			}
		}},
		{"md", func(t *testing.T, out string) {
			for _, want := range []string{
				"# Session chat-7",
				"**Trigger:** chat",
				"## Summary\n\nCalendar **review**",
				"**user:**",
				"**tool `read_calendar` [ok]:**",
				"```\n**raw**\n```",
			} {
				if !strings.Contains(out, want) {
					t.Errorf("markdown missing %q\n%s", want, out)
				}
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exporter, err := NewExporter(tt.format)
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			if err := exporter.Export(session, &buf); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			tt.check(t, buf.String())
		})
	}
}

func TestEscapeMarkdown(t *testing.T) {
	in := "**bold** and __under__\n```\n**kept**\n```\nafter **x**"
	want := "\\*\\*bold\\*\\* and \\_\\_under\\_\\_\n```\n**kept**\n```\nafter \\*\\*x\\*\\*"
	if got := escapeMarkdown(in); got != want {
		t.Errorf("escapeMarkdown() = %q, want %q", got, want)
	}
}
