package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/internal/tools"
)

const (
	morningSweepInstruction = "Good morning. Run the morning sweep: fetch emails, calendar events, and tasks. " +
		"Classify and prioritize everything. Generate a daily briefing, save it, and show a notification with the headline. " +
		"If there are urgent or important items, highlight them. Draft replies for important emails and queue them for my review."

	eveningSweepInstruction = "Good evening. Run the evening sweep: check for any new important emails since this morning. " +
		"Review tomorrow's calendar. Check for overdue or incomplete tasks. Generate an evening briefing summarizing " +
		"what happened today and what's coming tomorrow. Show a notification with the summary."

	manualInstruction = "The user manually triggered an agent session. Fetch the latest emails, calendar, and tasks. " +
		"Analyze what needs attention right now. Generate a briefing, draft replies for important emails, " +
		"and notify the user of anything urgent."
)

// DefaultInstruction is the opening message for a trigger when the caller
// supplies none.
func DefaultInstruction(trigger store.Trigger) string {
	switch trigger {
	case store.TriggerMorningSweep:
		return morningSweepInstruction
	case store.TriggerEveningSweep:
		return eveningSweepInstruction
	default:
		return manualInstruction
	}
}

// ManualInstruction names the user in the manual-run message.
func ManualInstruction(name string) string {
	return strings.Replace(manualInstruction, "notify the user", "notify "+name, 1)
}

// GoalCheckInstruction asks for a focused check of one goal.
func GoalCheckInstruction(g store.Goal) string {
	return fmt.Sprintf("Goal check: %q. %s. Check expression: %s. Assess the current state and take appropriate "+
		"action if needed. Then update the goal status with your findings using the update_goal_status tool.",
		g.Title, g.Description, g.CheckExpression)
}

// ImportantMailInstruction reacts to newly arrived high-importance mail.
func ImportantMailInstruction(emails []tools.Email, name string) string {
	subjects := make([]string, 0, len(emails))
	for _, e := range emails {
		subjects = append(subjects, e.Subject)
	}
	return fmt.Sprintf("URGENT: %d high-importance email(s) detected. Subjects: %s. Fetch the latest emails, "+
		"analyze these urgent items, draft replies if needed, and notify %s of anything requiring immediate action.",
		len(emails), strings.Join(subjects, ", "), name)
}

// MeetingPrepInstruction asks for a brief ahead of e.
func MeetingPrepInstruction(e tools.Event, loc *time.Location) string {
	attendees := strings.Join(e.Attendees, ", ")
	if attendees == "" {
		attendees = "None listed"
	}
	location := e.Location
	if location == "" {
		location = "Not specified"
	}
	return fmt.Sprintf(`MEETING PREP: %q starts at %s.
Attendees: %s
Location: %s

Please prepare a meeting brief:
1. Check recent emails from/about any attendees
2. Look up contact memory for attendees (use read_memory tool)
3. Check if there are related tasks
4. Summarize key talking points and any open items
5. Show a notification with the prep summary`, e.Title, e.Start.In(loc).Format("Mon 15:04"), attendees, location)
}
