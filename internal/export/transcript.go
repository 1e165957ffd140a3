package export

import (
	"encoding/json"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/store"
)

// Actors used in transcript entries.
const (
	ActorUser      = "user"
	ActorAssistant = "assistant"
	ActorTool      = "tool"
	ActorAgent     = "agent"
)

// Transcript flattens a stored session for export. Chat sessions are told
// through their chat rows, which already include every tool round trip;
// autonomous sessions through their action ledger.
func Transcript(sess *store.Session, actions []store.Action, chat []store.ChatMessage) *internal.Session {
	out := &internal.Session{
		ID:       sess.ID,
		Trigger:  string(sess.Trigger),
		Status:   string(sess.Status),
		Summary:  sess.Summary,
		Messages: []internal.Message{},
		Metadata: internal.Metadata{
			StartedAt: stamp(sess.StartedAt),
			ToolCalls: sess.ToolCalls,
			CostUSD:   sess.TotalCostUSD,
			Error:     sess.Error,
		},
	}
	if sess.CompletedAt != nil {
		out.Metadata.CompletedAt = stamp(*sess.CompletedAt)
	}

	if sess.Trigger == store.TriggerChat {
		for _, m := range chat {
			out.Messages = append(out.Messages, chatEntries(m)...)
		}
	} else {
		for _, a := range actions {
			content := a.Output
			if content == "" && len(a.Input) > 0 {
				content = string(a.Input)
			}
			out.Messages = append(out.Messages, internal.Message{
				Timestamp: stamp(a.CreatedAt),
				Actor:     ActorAgent,
				Tool:      a.ToolName,
				Status:    string(a.Status),
				Content:   content,
			})
		}
	}
	out.Metadata.MessageCount = len(out.Messages)
	return out
}

func chatEntries(m store.ChatMessage) []internal.Message {
	ts := stamp(m.CreatedAt)
	switch m.Role {
	case store.RoleUser:
		return []internal.Message{{Timestamp: ts, Actor: ActorUser, Content: m.Content}}
	case store.RoleAssistant:
		if m.Content == "" {
			return nil
		}
		return []internal.Message{{Timestamp: ts, Actor: ActorAssistant, Content: m.Content}}
	}

	var calls, results []llm.ContentBlock
	if json.Unmarshal(m.ToolCalls, &calls) != nil || json.Unmarshal([]byte(m.Content), &results) != nil {
		return []internal.Message{{Timestamp: ts, Actor: ActorTool, Status: "unreadable", Content: m.Content}}
	}
	byID := make(map[string]llm.ContentBlock, len(results))
	for _, r := range results {
		byID[r.ToolUseID] = r
	}

	var entries []internal.Message
	for _, c := range calls {
		if c.Type != llm.BlockToolUse {
			continue
		}
		entry := internal.Message{Timestamp: ts, Actor: ActorTool, Tool: c.Name, Status: "ok"}
		if r, ok := byID[c.ID]; ok {
			entry.Content = r.Content
			if r.IsError {
				entry.Status = "error"
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
