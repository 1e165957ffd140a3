// Package safety maps tool names to risk levels and decides, per autonomy
// mode, whether a call runs immediately or waits for human approval.
package safety

import "strings"

// Risk is the impact level of a tool call.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Mode controls how much the agent may do without asking.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeExecutive    Mode = "executive"
)

// Decision is the classifier's verdict for one tool call.
type Decision struct {
	NeedsApproval bool `json:"needs_approval"`
	Risk          Risk `json:"risk"`
	Notify        bool `json:"notify"`
}

// ProviderSeparator splits "<provider>__<tool>".
const ProviderSeparator = "__"

var riskTable = map[string]Risk{
	// Reads and local bookkeeping.
	"fetch_emails":       RiskLow,
	"fetch_sent_emails":  RiskLow,
	"fetch_calendar":     RiskLow,
	"read_tasks":         RiskLow,
	"show_notification":  RiskLow,
	"read_memory":        RiskLow,
	"update_memory":      RiskLow,
	"generate_briefing":  RiskLow,
	"save_briefing":      RiskLow,
	"update_task":        RiskLow,
	"list_goals":         RiskLow,
	"update_goal_status": RiskLow,

	// Task manager provider.
	"things_add_task":     RiskMedium,
	"things_add_project":  RiskMedium,
	"things_update_task":  RiskMedium,
	"things_search":       RiskLow,
	"things_show_list":    RiskLow,
	"things_get_today":    RiskLow,
	"things_get_upcoming": RiskLow,

	// Meeting notes provider, read only.
	"get_recent_meetings": RiskLow,
	"list_meetings":       RiskLow,
	"search_meetings":     RiskLow,
	"get_meeting":         RiskLow,
	"get_transcript":      RiskLow,
	"get_meeting_notes":   RiskLow,
	"list_participants":   RiskLow,
	"export_meeting":      RiskLow,
	"get_statistics":      RiskLow,
	"analyze_patterns":    RiskLow,

	"create_calendar_event": RiskMedium,
	"draft_reply":           RiskMedium,
	"delete_task":           RiskMedium,
	"request_human_review":  RiskMedium,

	"send_email":            RiskHigh,
	"delete_calendar_event": RiskHigh,
	"update_calendar_event": RiskHigh,
}

// RiskOf returns the risk of a tool. Provider tools are looked up by the name
// after the first separator. Anything unmapped is high risk.
func RiskOf(toolName string) Risk {
	if r, ok := riskTable[toolName]; ok {
		return r
	}
	if i := strings.Index(toolName, ProviderSeparator); i > 0 {
		if r, ok := riskTable[toolName[i+len(ProviderSeparator):]]; ok {
			return r
		}
	}
	return RiskHigh
}

// Known reports whether the tool has an explicit entry in the risk table.
func Known(toolName string) bool {
	if _, ok := riskTable[toolName]; ok {
		return true
	}
	if i := strings.Index(toolName, ProviderSeparator); i > 0 {
		_, ok := riskTable[toolName[i+len(ProviderSeparator):]]
		return ok
	}
	return false
}

// Classify decides how a call to toolName is handled under mode. An
// unrecognized mode is treated as conservative.
func Classify(toolName string, mode Mode) Decision {
	risk := RiskOf(toolName)

	switch mode {
	case ModeBalanced:
		switch risk {
		case RiskHigh:
			return Decision{NeedsApproval: true, Risk: risk}
		case RiskMedium:
			return Decision{Risk: risk, Notify: true}
		default:
			return Decision{Risk: risk}
		}
	case ModeExecutive:
		return Decision{Risk: risk, Notify: risk != RiskLow}
	default:
		return Decision{NeedsApproval: risk != RiskLow, Risk: risk}
	}
}

// ParseMode converts a config string to a Mode. ok is false for unknown values.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeConservative, ModeBalanced, ModeExecutive:
		return m, true
	default:
		return ModeConservative, false
	}
}
