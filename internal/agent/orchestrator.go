// Package agent runs model sessions: the autonomous tool-calling loop, the
// streaming chat variant and the resolution of queued approvals.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/assist"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/metrics"
	"github.com/iksnae/chief-of-staff/internal/safety"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"go.uber.org/zap"
)

// Summaries and tool-result texts the loop produces itself.
const (
	MaxToolCallsSummary = "Max tool calls reached"
	DefaultSummary      = "Session completed"
	QueuedMessage       = "This action requires human approval. It has been queued for review. " + tools.QueuedForReview
)

const (
	reflectionMaxTokens = 300
	reflectionPrompt    = "You are reflecting on an agent session. Be very concise (2-3 sentences)."
	journalMaxChars     = 500
)

// Model is what the orchestrator needs from the model client.
type Model interface {
	llm.Completer
	llm.Streamer
}

// Gate admits or refuses a new autonomous session.
type Gate interface {
	Admit(ctx context.Context) error
}

// Deps wires an Orchestrator. Events, Notifier, Now and NewID are optional.
type Deps struct {
	Store      *store.Store
	Config     *config.Live
	Model      Model
	Dispatcher *tools.Dispatcher
	Gate       Gate
	Meter      *assist.Meter
	Prompts    *PromptBuilder
	Events     events.Publisher
	Notifier   tools.Notifier
	Now        func() time.Time
	NewID      func() string
}

// Orchestrator runs sessions. It holds no per-session state, so concurrent
// sessions are independent.
type Orchestrator struct {
	store      *store.Store
	cfg        *config.Live
	model      Model
	dispatcher *tools.Dispatcher
	gate       Gate
	meter      *assist.Meter
	prompts    *PromptBuilder
	events     events.Publisher
	notifier   tools.Notifier
	now        func() time.Time
	newID      func() string
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:      d.Store,
		cfg:        d.Config,
		model:      d.Model,
		dispatcher: d.Dispatcher,
		gate:       d.Gate,
		meter:      d.Meter,
		prompts:    d.Prompts,
		events:     d.Events,
		notifier:   d.Notifier,
		now:        d.Now,
		newID:      d.NewID,
	}
	if o.events == nil {
		o.events = events.Discard
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.meter == nil {
		o.meter = assist.NewMeter(d.Store, d.Config)
	}
	if o.prompts == nil {
		o.prompts = NewPromptBuilder(d.Store, d.Config, "", o.now)
	}
	return o
}

// SessionResult is the outcome of an autonomous session.
type SessionResult struct {
	SessionID  string              `json:"session_id"`
	Status     store.SessionStatus `json:"status"`
	Summary    string              `json:"summary"`
	ToolCalls  int                 `json:"tool_calls"`
	Queued     int                 `json:"queued_approvals"`
	CostUSD    float64             `json:"cost_usd"`
	Iterations int                 `json:"iterations"`
}

// run is the per-session state of one autonomous loop.
type run struct {
	id       string
	trigger  store.Trigger
	started  time.Time
	log      *zap.Logger
	result   *SessionResult
	messages []llm.Message
}

// RunSession starts an autonomous session for trigger with the given initial
// instruction and drives it to completion. Gate refusals return a
// *internal.GateError before any session row exists. A failed model call
// marks the session failed and returns a *internal.ModelError alongside the
// result.
func (o *Orchestrator) RunSession(ctx context.Context, trigger store.Trigger, instruction string) (*SessionResult, error) {
	if o.gate != nil {
		if err := o.gate.Admit(ctx); err != nil {
			var gate *internal.GateError
			if errors.As(err, &gate) {
				metrics.RecordGateRejection(gate.Gate)
			}
			return nil, err
		}
	}

	r := &run{
		id:      o.newID(),
		trigger: trigger,
		started: o.now(),
	}
	r.log = internal.Logger().With(zap.String("session_id", r.id), zap.String("trigger", string(trigger)))
	r.result = &SessionResult{SessionID: r.id, Status: store.SessionRunning}

	if err := o.store.CreateSession(ctx, r.id, trigger, r.started); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	o.publish(events.SessionStart, r.id, map[string]any{
		"trigger": string(trigger),
		"summary": fmt.Sprintf("Agent session started: %s", trigger),
	})
	r.log.Info("session started")

	if instruction == "" {
		instruction = DefaultInstruction(trigger)
	}
	r.messages = []llm.Message{llm.UserText(instruction)}

	err := o.loop(ctx, r)
	if err != nil {
		o.fail(ctx, r, err)
		return r.result, err
	}
	return r.result, nil
}

func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	cfg := o.cfg.Current()
	mode, ok := safety.ParseMode(cfg.Agent.AutonomyMode)
	if !ok {
		r.log.Warn("unknown autonomy mode, using conservative", zap.String("mode", cfg.Agent.AutonomyMode))
	}
	maxCalls := cfg.Agent.MaxToolCallsPerSession
	system := o.prompts.Autonomous(ctx, r.trigger)
	catalog := o.catalog(ctx)
	operation := "agent:" + string(r.trigger)

	for {
		r.result.Iterations++
		resp, err := o.model.Complete(ctx, llm.Request{
			Model:     cfg.API.AgentModel,
			MaxTokens: cfg.API.MaxTokens,
			System:    system,
			Messages:  r.messages,
			Tools:     catalog,
		})
		if err != nil {
			o.meter.Failed(cfg.API.AgentModel)
			return &internal.ModelError{Model: cfg.API.AgentModel, Err: err}
		}

		cost, err := o.meter.Charge(ctx, resp.Model, operation, r.id, resp.Usage)
		if err != nil {
			return err
		}
		if err := o.store.AddSessionUsage(ctx, r.id, 0, cost); err != nil {
			return fmt.Errorf("failed to record session cost: %w", err)
		}
		r.result.CostUSD += cost

		if !resp.WantsTools() {
			summary := resp.Text()
			if summary == "" {
				summary = DefaultSummary
			}
			return o.complete(ctx, r, summary)
		}

		r.messages = append(r.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		var results []llm.ContentBlock
		for _, use := range resp.ToolUses() {
			if r.result.ToolCalls+1 > maxCalls {
				r.log.Warn("tool call cap reached", zap.Int("max", maxCalls))
				return o.complete(ctx, r, MaxToolCallsSummary)
			}
			block, err := o.handleToolCall(ctx, r, mode, use)
			if err != nil {
				return err
			}
			results = append(results, block)
		}
		r.messages = append(r.messages, llm.Message{Role: llm.RoleUser, Content: results})
	}
}

// handleToolCall classifies one call, then queues or executes it. Only
// storage failures and cancellation are returned as errors; tool failures
// become is_error results.
func (o *Orchestrator) handleToolCall(ctx context.Context, r *run, mode safety.Mode, use llm.ContentBlock) (llm.ContentBlock, error) {
	r.result.ToolCalls++
	if err := o.store.AddSessionUsage(ctx, r.id, 1, 0); err != nil {
		return llm.ContentBlock{}, fmt.Errorf("failed to count tool call: %w", err)
	}

	decision := safety.Classify(use.Name, mode)
	o.publish(events.ToolCall, r.id, map[string]any{
		"tool":    use.Name,
		"risk":    string(decision.Risk),
		"summary": fmt.Sprintf("Calling %s...", use.Name),
	})

	if decision.NeedsApproval {
		approval, err := o.queue(ctx, r.id, use, decision.Risk, "Agent wants to: "+use.Name)
		if err != nil {
			return llm.ContentBlock{}, err
		}
		r.result.Queued++
		r.log.Info("tool call queued for approval", zap.String("tool", use.Name), zap.String("approval_id", approval.ID))
		metrics.RecordToolCall(use.Name, "queued", 0)
		return llm.ToolResultBlock(use.ID, QueuedMessage, false), nil
	}

	outcome, err := o.execute(ctx, r.id, use)
	if err != nil {
		return llm.ContentBlock{}, err
	}
	if outcome.Failed() {
		r.log.Info("tool call failed", zap.String("tool", use.Name), zap.Error(outcome.Err))
	} else if decision.Notify {
		o.publish(events.AutoExecuted, r.id, map[string]any{
			"tool":    use.Name,
			"risk":    string(decision.Risk),
			"summary": fmt.Sprintf("Auto-executed %s (%s risk)", use.Name, decision.Risk),
		})
	}
	return llm.ToolResultBlock(use.ID, outcome.Text(), outcome.Failed()), nil
}

// queue records a pending_approval action and its approval row.
func (o *Orchestrator) queue(ctx context.Context, sessionID string, use llm.ContentBlock, risk safety.Risk, title string) (store.Approval, error) {
	if _, err := o.store.LogAction(ctx, store.Action{
		SessionID: sessionID,
		ToolName:  use.Name,
		Input:     use.Input,
		Status:    store.ActionPendingApproval,
	}); err != nil {
		return store.Approval{}, err
	}
	approval, err := o.store.CreateApproval(ctx, store.Approval{
		SessionID:   sessionID,
		ActionType:  use.Name,
		Title:       title,
		Description: prettyJSON(use.Input),
		Payload:     use.Input,
		Risk:        risk,
	})
	if err != nil {
		return store.Approval{}, err
	}
	o.publish(events.ApprovalCreated, sessionID, map[string]any{
		"approval_id": approval.ID,
		"tool":        use.Name,
		"risk":        string(risk),
		"summary":     fmt.Sprintf("Queued %s for human approval (%s risk)", use.Name, risk),
	})
	return approval, nil
}

// execute dispatches one call and appends its action row.
func (o *Orchestrator) execute(ctx context.Context, sessionID string, use llm.ContentBlock) (tools.Outcome, error) {
	start := o.now()
	outcome, err := o.dispatcher.Dispatch(ctx, use.Name, use.Input, sessionID)
	if err != nil {
		return outcome, err
	}

	status, label := store.ActionExecuted, "executed"
	if outcome.Failed() {
		status, label = store.ActionError, "error"
	}
	metrics.RecordToolCall(use.Name, label, o.now().Sub(start))

	if _, err := o.store.LogAction(ctx, store.Action{
		SessionID: sessionID,
		ToolName:  use.Name,
		Input:     use.Input,
		Output:    outcome.Text(),
		Status:    status,
	}); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// complete finishes a session successfully and runs the post-session steps.
func (o *Orchestrator) complete(ctx context.Context, r *run, summary string) error {
	if err := o.store.FinishSession(ctx, r.id, store.SessionCompleted, summary, "", o.now()); err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	r.result.Status = store.SessionCompleted
	r.result.Summary = summary
	o.finished(ctx, r, summary)

	internal.BestEffort(ctx, "session journal", func(ctx context.Context) error {
		return o.store.SetMemory(ctx, store.MemoryJournal, o.now().Format("2006-01-02"), truncate(summary, journalMaxChars))
	})
	if r.trigger != store.TriggerChat {
		internal.BestEffort(ctx, "session reflection", func(ctx context.Context) error {
			return o.reflect(ctx, r, summary)
		})
	}
	return nil
}

// fail records err as the session's terminal state. The session row may
// already be closed if the failure happened after FinishSession.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) {
	ctx = context.WithoutCancel(ctx)
	r.result.Status = store.SessionFailed
	r.log.Error("session failed", zap.Error(err))

	if ferr := o.store.FinishSession(ctx, r.id, store.SessionFailed, "", err.Error(), o.now()); ferr != nil {
		if !errors.Is(ferr, store.ErrSessionClosed) {
			r.log.Error("failed to mark session failed", zap.Error(ferr))
		}
		return
	}
	o.finished(ctx, r, "Session failed: "+err.Error())
}

// finished publishes the terminal event and notification.
func (o *Orchestrator) finished(ctx context.Context, r *run, summary string) {
	status := string(r.result.Status)
	metrics.RecordSession(string(r.trigger), status, o.now().Sub(r.started))
	r.log.Info("session finished",
		zap.String("status", status),
		zap.Int("tool_calls", r.result.ToolCalls),
		zap.Float64("cost_usd", r.result.CostUSD))

	o.publish(events.SessionEnd, r.id, map[string]any{
		"status":     status,
		"summary":    summary,
		"tool_calls": r.result.ToolCalls,
		"cost_usd":   r.result.CostUSD,
	})
	if o.notifier != nil {
		internal.BestEffort(ctx, "session notification", func(ctx context.Context) error {
			return o.notifier.Notify(ctx, "Chief of Staff", truncate(summary, 200))
		})
	}
}

// reflect asks the triage model what to remember and stores the answer.
// Its cost goes to the ledger but not to the finished session's total.
func (o *Orchestrator) reflect(ctx context.Context, r *run, summary string) error {
	cfg := o.cfg.Current()
	model := cfg.API.TriageModel
	resp, err := o.model.Complete(ctx, llm.Request{
		Model:     model,
		MaxTokens: reflectionMaxTokens,
		System:    reflectionPrompt,
		Messages: []llm.Message{llm.UserText(fmt.Sprintf(
			"Session trigger: %s\nActions taken: %d tool calls\nSummary: %s\n\n"+
				"What should be remembered for future sessions? Any patterns about user preferences?",
			r.trigger, r.result.ToolCalls, summary))},
	})
	if err != nil {
		o.meter.Failed(model)
		return err
	}
	if _, err := o.meter.Charge(ctx, resp.Model, "reflection:"+string(r.trigger), r.id, resp.Usage); err != nil {
		return err
	}
	text := resp.Text()
	if text == "" {
		return nil
	}
	key := fmt.Sprintf("%s_%s", o.now().Format("2006-01-02"), r.trigger)
	return o.store.SetMemory(ctx, store.MemoryReflection, key, text)
}

func (o *Orchestrator) catalog(ctx context.Context) []llm.Tool {
	specs := o.dispatcher.Registry().List(ctx)
	out := make([]llm.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.LLMTool())
	}
	return out
}

func (o *Orchestrator) publish(t events.Type, sessionID string, data map[string]any) {
	o.events.Publish(events.Event{Type: t, SessionID: sessionID, Time: o.now(), Data: data})
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
