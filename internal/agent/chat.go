package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/safety"
	"github.com/iksnae/chief-of-staff/internal/store"
	"go.uber.org/zap"
)

const (
	chatQueuedMessage = "This action requires your approval. It has been queued for review."
	chatMaxIterations = "Max iterations reached."
	chatClearedNote   = "Chat cleared"
	toolPreviewChars  = 200
)

// Chat tool-call statuses carried by chat_tool_call events.
const (
	ToolStart = "start"
	ToolDone  = "done"
	ToolError = "error"
)

// EnsureChatSession resolves the chat session to use: id itself when given,
// else the newest running chat session, else a new one. A given id is created
// when unknown and must otherwise be a running chat.
func (o *Orchestrator) EnsureChatSession(ctx context.Context, id string) (string, error) {
	if id != "" {
		if err := o.store.EnsureSession(ctx, id, store.TriggerChat); err != nil {
			return "", err
		}
		if err := o.checkChatSession(ctx, id, true); err != nil {
			return "", err
		}
		return id, nil
	}
	latest, err := o.CurrentChatSession(ctx)
	if err != nil {
		return "", err
	}
	if latest != "" {
		return latest, nil
	}
	return o.newChatSession(ctx)
}

// CurrentChatSession returns the most recent running chat session, or "" when
// there is none. It never creates one.
func (o *Orchestrator) CurrentChatSession(ctx context.Context) (string, error) {
	return o.store.LatestRunningSession(ctx, store.TriggerChat)
}

// checkChatSession rejects ids that belong to autonomous sessions and, when
// open is set, chats that have already been closed.
func (o *Orchestrator) checkChatSession(ctx context.Context, id string, open bool) error {
	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Trigger != store.TriggerChat {
		return &internal.ValidationError{Tool: "chat", Field: "session_id", Reason: fmt.Sprintf("%s is a %s session, not a chat", id, sess.Trigger)}
	}
	if open && sess.Status != store.SessionRunning {
		return &internal.ValidationError{Tool: "chat", Field: "session_id", Reason: fmt.Sprintf("chat %s is %s; start a new one", id, sess.Status)}
	}
	return nil
}

// ClearChat closes chat session id and returns a fresh session id. History of
// the old session is kept.
func (o *Orchestrator) ClearChat(ctx context.Context, id string) (string, error) {
	if id != "" {
		err := o.store.FinishSession(ctx, id, store.SessionCompleted, chatClearedNote, "", o.now())
		if err != nil && !errors.Is(err, store.ErrSessionClosed) && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	return o.newChatSession(ctx)
}

func (o *Orchestrator) newChatSession(ctx context.Context) (string, error) {
	id := o.newID()
	if err := o.store.CreateSession(ctx, id, store.TriggerChat, o.now()); err != nil {
		return "", fmt.Errorf("failed to create chat session: %w", err)
	}
	return id, nil
}

// ChatHistory returns the stored rows of a chat session, open or closed.
func (o *Orchestrator) ChatHistory(ctx context.Context, sessionID string) ([]store.ChatMessage, error) {
	if err := o.checkChatSession(ctx, sessionID, false); err != nil {
		return nil, err
	}
	return o.store.ChatHistory(ctx, sessionID)
}

// SendChatMessage runs one chat turn and returns the assistant's reply. Text
// and tool activity are streamed as events while the turn runs. Model and
// storage failures are returned as an inline "Error: ..." reply; only an
// invalid message yields an error.
func (o *Orchestrator) SendChatMessage(ctx context.Context, sessionID, text string) (string, error) {
	cfg := o.cfg.Current()
	if sessionID == "" {
		return "", &internal.ValidationError{Tool: "chat", Field: "session_id", Reason: "is required"}
	}
	if strings.TrimSpace(text) == "" {
		return "", &internal.ValidationError{Tool: "chat", Field: "message", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(text); n > cfg.Agent.MaxChatMessageChars {
		return "", &internal.ValidationError{
			Tool:   "chat",
			Field:  "message",
			Reason: fmt.Sprintf("is too long (%d characters, max %d)", n, cfg.Agent.MaxChatMessageChars),
		}
	}

	log := internal.Logger().With(zap.String("session_id", sessionID), zap.String("trigger", string(store.TriggerChat)))

	if err := o.store.EnsureSession(ctx, sessionID, store.TriggerChat); err != nil {
		return o.chatError(ctx, log, sessionID, err), nil
	}
	if _, err := o.store.AppendChatMessage(ctx, store.ChatMessage{SessionID: sessionID, Role: store.RoleUser, Content: text}); err != nil {
		return o.chatError(ctx, log, sessionID, err), nil
	}

	reply, err := o.chatTurn(ctx, log, sessionID)
	if err != nil {
		return o.chatError(ctx, log, sessionID, err), nil
	}
	return reply, nil
}

func (o *Orchestrator) chatTurn(ctx context.Context, log *zap.Logger, sessionID string) (string, error) {
	cfg := o.cfg.Current()
	mode, _ := safety.ParseMode(cfg.Agent.AutonomyMode)
	system := o.prompts.Chat(ctx)
	catalog := o.catalog(ctx)

	rows, err := o.store.ChatHistory(ctx, sessionID)
	if err != nil {
		return "", err
	}
	messages, err := BuildTranscript(rows)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	onText := func(delta string) {
		o.publish(events.ChatChunk, sessionID, map[string]any{"text": delta})
	}

	for i := 0; i < cfg.Agent.MaxToolCallsPerSession; i++ {
		resp, err := o.model.Stream(ctx, llm.Request{
			Model:     cfg.API.ChatModel,
			MaxTokens: cfg.API.MaxTokens,
			System:    system,
			Messages:  messages,
			Tools:     catalog,
			Stream:    true,
		}, onText)
		if err != nil {
			o.meter.Failed(cfg.API.ChatModel)
			return "", &internal.ModelError{Model: cfg.API.ChatModel, Err: err}
		}

		cost, err := o.meter.Charge(ctx, resp.Model, "chat", sessionID, resp.Usage)
		if err != nil {
			return "", err
		}
		o.addChatUsage(ctx, log, sessionID, 0, cost)
		full.WriteString(resp.Text())

		if !resp.WantsTools() {
			reply := full.String()
			o.publish(events.ChatDone, sessionID, nil)
			if _, err := o.store.AppendChatMessage(ctx, store.ChatMessage{SessionID: sessionID, Role: store.RoleAssistant, Content: reply}); err != nil {
				return "", err
			}
			return reply, nil
		}

		var results []llm.ContentBlock
		for _, use := range resp.ToolUses() {
			block, err := o.chatToolCall(ctx, log, sessionID, mode, use)
			if err != nil {
				return "", err
			}
			results = append(results, block)
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: results})

		resultsJSON, err := json.Marshal(results)
		if err != nil {
			return "", err
		}
		callsJSON, err := json.Marshal(resp.Content)
		if err != nil {
			return "", err
		}
		if _, err := o.store.AppendChatMessage(ctx, store.ChatMessage{
			SessionID: sessionID,
			Role:      store.RoleToolResult,
			Content:   string(resultsJSON),
			ToolCalls: callsJSON,
		}); err != nil {
			return "", err
		}
	}

	reply := full.String()
	if reply == "" {
		reply = chatMaxIterations
	}
	o.publish(events.ChatDone, sessionID, nil)
	if _, err := o.store.AppendChatMessage(ctx, store.ChatMessage{SessionID: sessionID, Role: store.RoleAssistant, Content: reply}); err != nil {
		return "", err
	}
	return reply, nil
}

func (o *Orchestrator) chatToolCall(ctx context.Context, log *zap.Logger, sessionID string, mode safety.Mode, use llm.ContentBlock) (llm.ContentBlock, error) {
	o.publishToolStatus(sessionID, use.Name, ToolStart, "")
	o.addChatUsage(ctx, log, sessionID, 1, 0)

	decision := safety.Classify(use.Name, mode)
	if decision.NeedsApproval {
		if _, err := o.queue(ctx, sessionID, use, decision.Risk, "Chat: "+use.Name); err != nil {
			return llm.ContentBlock{}, err
		}
		o.publishToolStatus(sessionID, use.Name, ToolDone, fmt.Sprintf("Queued for approval (%s risk)", decision.Risk))
		return llm.ToolResultBlock(use.ID, chatQueuedMessage, false), nil
	}

	outcome, err := o.execute(ctx, sessionID, use)
	if err != nil {
		return llm.ContentBlock{}, err
	}
	switch {
	case outcome.Failed():
		o.publishToolStatus(sessionID, use.Name, ToolError, outcome.Err.Error())
	case decision.Notify:
		o.publishToolStatus(sessionID, use.Name, ToolDone,
			fmt.Sprintf("Auto-executed (%s risk): %s", decision.Risk, truncate(outcome.Output, toolPreviewChars)))
	default:
		o.publishToolStatus(sessionID, use.Name, ToolDone, truncate(outcome.Output, toolPreviewChars))
	}
	return llm.ToolResultBlock(use.ID, outcome.Text(), outcome.Failed()), nil
}

// addChatUsage adds to the chat session's counters. A chat cleared mid-turn
// is no longer running; its usage is still in the cost ledger.
func (o *Orchestrator) addChatUsage(ctx context.Context, log *zap.Logger, sessionID string, toolCalls int, cost float64) {
	if err := o.store.AddSessionUsage(ctx, sessionID, toolCalls, cost); err != nil {
		log.Debug("chat usage not added to session", zap.Error(err))
	}
}

// chatError stores and streams err as an inline assistant reply.
func (o *Orchestrator) chatError(ctx context.Context, log *zap.Logger, sessionID string, err error) string {
	ctx = context.WithoutCancel(ctx)
	msg := "Error: " + err.Error()
	log.Warn("chat turn failed", zap.Error(err))

	o.publish(events.ChatChunk, sessionID, map[string]any{"text": "\n\n" + msg})
	internal.BestEffort(ctx, "store chat error", func(ctx context.Context) error {
		_, err := o.store.AppendChatMessage(ctx, store.ChatMessage{SessionID: sessionID, Role: store.RoleAssistant, Content: msg})
		return err
	})
	o.publish(events.ChatDone, sessionID, map[string]any{"error": err.Error()})
	return msg
}

func (o *Orchestrator) publishToolStatus(sessionID, tool, status, result string) {
	data := map[string]any{"tool": tool, "status": status}
	if result != "" {
		data["result"] = result
	}
	o.publish(events.ChatToolCall, sessionID, data)
}

// BuildTranscript turns stored chat rows into model messages. A tool_result
// row expands into the assistant's tool-use turn followed by the user turn
// carrying the results. Consecutive messages with the same role are merged.
func BuildTranscript(rows []store.ChatMessage) ([]llm.Message, error) {
	var out []llm.Message
	add := func(m llm.Message) {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = append(out[n-1].Content, m.Content...)
			return
		}
		out = append(out, m)
	}

	for _, row := range rows {
		if row.Role == store.RoleToolResult && len(row.ToolCalls) > 0 {
			var calls, results []llm.ContentBlock
			if err := json.Unmarshal(row.ToolCalls, &calls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls of message %s: %w", row.ID, err)
			}
			if err := json.Unmarshal([]byte(row.Content), &results); err != nil {
				return nil, fmt.Errorf("failed to decode tool results of message %s: %w", row.ID, err)
			}
			add(llm.Message{Role: llm.RoleAssistant, Content: calls})
			add(llm.Message{Role: llm.RoleUser, Content: results})
			continue
		}

		role := llm.RoleUser
		if row.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		if row.Content == "" {
			continue
		}
		add(llm.Message{Role: role, Content: []llm.ContentBlock{llm.TextBlock(row.Content)}})
	}
	return out, nil
}
