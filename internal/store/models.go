package store

import (
	"encoding/json"
	"time"

	"github.com/iksnae/chief-of-staff/internal/safety"
)

// Trigger names what started a session.
type Trigger string

const (
	TriggerMorningSweep    Trigger = "morning_sweep"
	TriggerEveningSweep    Trigger = "evening_sweep"
	TriggerImportanceSpike Trigger = "importance_spike"
	TriggerMeetingPrep     Trigger = "meeting_prep"
	TriggerManual          Trigger = "manual"
	TriggerChat            Trigger = "chat"
)

// ParseTrigger validates a trigger name.
func ParseTrigger(s string) (Trigger, bool) {
	switch t := Trigger(s); t {
	case TriggerMorningSweep, TriggerEveningSweep, TriggerImportanceSpike,
		TriggerMeetingPrep, TriggerManual, TriggerChat:
		return t, true
	}
	return "", false
}

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is one agent run or one chat conversation.
type Session struct {
	ID           string        `json:"id"`
	Trigger      Trigger       `json:"trigger"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	ToolCalls    int           `json:"tool_calls"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	Error        string        `json:"error,omitempty"`
}

type ActionStatus string

const (
	ActionExecuted        ActionStatus = "executed"
	ActionPendingApproval ActionStatus = "pending_approval"
	ActionApproved        ActionStatus = "approved"
	ActionRejected        ActionStatus = "rejected"
	ActionError           ActionStatus = "error"
)

// Action is an append-only record of one tool call or approval outcome.
type Action struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    string          `json:"output,omitempty"`
	Status    ActionStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a deferred tool call awaiting a human decision.
type Approval struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	ActionType      string          `json:"action_type"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Payload         json.RawMessage `json:"payload"`
	Risk            safety.Risk     `json:"risk_level"`
	Status          ApprovalStatus  `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedPayload json.RawMessage `json:"resolved_payload,omitempty"`
	// ReviewOnly marks a free-form review request with no tool behind it.
	ReviewOnly bool `json:"review_only,omitempty"`
}

type ChatRole string

const (
	RoleUser       ChatRole = "user"
	RoleAssistant  ChatRole = "assistant"
	RoleToolResult ChatRole = "tool_result"
)

// ChatMessage is a durable chat row. Tool-result rows carry the assistant's
// tool-use blocks in ToolCalls and the JSON-encoded results in Content.
type ChatMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      ChatRole        `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CostEntry is one model call in the cost ledger.
type CostEntry struct {
	ID           int64     `json:"id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Operation    string    `json:"operation"`
	SessionID    string    `json:"session_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ModelCost aggregates spend for one model.
type ModelCost struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Memory categories used by the engine.
const (
	MemoryJournal    = "journal"
	MemoryPending    = "pending"
	MemoryReflection = "reflection"
)

// MemoryEntry is a (category, key) keyed note the agent keeps between sessions.
type MemoryEntry struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FeedbackOutcome string

const (
	OutcomeApproved           FeedbackOutcome = "approved"
	OutcomeEditedThenApproved FeedbackOutcome = "edited_then_approved"
	OutcomeRejected           FeedbackOutcome = "rejected"
)

// Feedback records how the user resolved an approval.
type Feedback struct {
	ActionType     string          `json:"action_type"`
	Outcome        FeedbackOutcome `json:"outcome"`
	WasEdited      bool            `json:"was_edited"`
	TimeToDecision time.Duration   `json:"time_to_decision"`
	HourOfDay      int             `json:"hour_of_day"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FeedbackStats summarizes recent feedback for one action type.
type FeedbackStats struct {
	Total       int           `json:"total"`
	Approved    int           `json:"approved"`
	Rejected    int           `json:"rejected"`
	Edited      int           `json:"edited"`
	EditRate    float64       `json:"edit_rate"`
	AvgDecision time.Duration `json:"avg_decision,omitempty"`
}

type GoalSchedule string

const (
	ScheduleEvery15Min GoalSchedule = "every_15min"
	ScheduleHourly     GoalSchedule = "hourly"
	ScheduleOnSweep    GoalSchedule = "on_sweep"
)

// Goal is a standing objective the goal checker evaluates.
type Goal struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	CheckExpression string       `json:"check_expression"`
	Schedule        GoalSchedule `json:"schedule"`
	Enabled         bool         `json:"enabled"`
	LastCheckedAt   *time.Time   `json:"last_checked_at,omitempty"`
	LastStatus      string       `json:"last_status,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Briefing is a saved structured daily briefing.
type Briefing struct {
	ID          string          `json:"id"`
	Headline    string          `json:"headline"`
	Data        json.RawMessage `json:"data"`
	GeneratedAt time.Time       `json:"generated_at"`
}
