package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/safety"
	"github.com/iksnae/chief-of-staff/internal/store"
)

// QueuedForReview is appended to approval-producing tool results.
const QueuedForReview = "The user will approve or reject it."

// Deps are the collaborators the built-in tools call into. Any source may be
// nil; tools that need a missing source fail with a tool error.
type Deps struct {
	Store    *store.Store
	Config   *config.Live
	Mail     Mail
	Calendar Calendar
	Tasks    Tasks
	Notifier Notifier
	Briefer  Briefer
	Drafter  Drafter
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

var errNotConfigured = errors.New("data source not configured")

type fetchEmailsArgs struct {
	Limit int `json:"limit,omitempty" desc:"Maximum number of emails to fetch (default 50)"`
}

type fetchSentArgs struct {
	Limit int `json:"limit,omitempty" desc:"Maximum number of sent emails to fetch (default 20)"`
}

type sendEmailArgs struct {
	ToAddress string `json:"to_address" desc:"Recipient's email address"`
	ToName    string `json:"to_name" desc:"Recipient's display name"`
	Subject   string `json:"subject" desc:"Email subject line"`
	Body      string `json:"body" desc:"Email body text"`
}

type noArgs struct{}

type createEventArgs struct {
	Subject         string   `json:"subject" desc:"Event title/subject"`
	StartDateTime   string   `json:"startDateTime" desc:"Start time in ISO 8601 format (e.g., 2026-02-18T14:00:00)"`
	EndDateTime     string   `json:"endDateTime" desc:"End time in ISO 8601 format (e.g., 2026-02-18T15:00:00)"`
	Body            string   `json:"body,omitempty" desc:"Event description/body text (optional)"`
	Location        string   `json:"location,omitempty" desc:"Event location (optional)"`
	Attendees       []string `json:"attendees,omitempty" desc:"List of attendee email addresses (optional)"`
	IsOnlineMeeting bool     `json:"isOnlineMeeting,omitempty" desc:"Create as an online meeting (optional)"`
}

type generateBriefingArgs struct {
	Emails []map[string]any `json:"emails" desc:"Classified email data to include in briefing"`
	Events []map[string]any `json:"events" desc:"Calendar events to include in briefing"`
	Tasks  []map[string]any `json:"tasks" desc:"Task data to include in briefing"`
}

type saveBriefingArgs struct {
	Headline string            `json:"headline" desc:"Briefing headline"`
	Sections []json.RawMessage `json:"sections" desc:"Briefing sections"`
	Stats    map[string]any    `json:"stats" desc:"Briefing statistics"`
}

type notificationArgs struct {
	Title string `json:"title" desc:"Notification title"`
	Body  string `json:"body" desc:"Notification body text"`
}

type reviewArgs struct {
	ActionType  string          `json:"action_type" desc:"Type of action (e.g., send_email, create_calendar_event)"`
	Title       string          `json:"title" desc:"Short title describing the action"`
	Description string          `json:"description" desc:"Detailed description of what you want to do and why"`
	Data        json.RawMessage `json:"data" desc:"The data/arguments for the action"`
}

type draftReplyArgs struct {
	EmailID        string `json:"email_id" desc:"ID of the email to reply to"`
	FromName       string `json:"from_name" desc:"Sender name"`
	FromAddress    string `json:"from_address" desc:"Sender email address"`
	Subject        string `json:"subject" desc:"Email subject"`
	Body           string `json:"body" desc:"Email body to reply to"`
	Classification string `json:"classification,omitempty" desc:"Email classification (important/normal)"`
}

type deleteTaskArgs struct {
	TaskID   string `json:"task_id" desc:"Task ID to delete"`
	TaskName string `json:"task_name,omitempty" desc:"Task name (for confirmation display)"`
}

type updateTaskArgs struct {
	TaskID   string  `json:"task_id" desc:"Task ID"`
	Name     *string `json:"name,omitempty" desc:"New task name (optional)"`
	Notes    *string `json:"notes,omitempty" desc:"New task notes (optional)"`
	Complete bool    `json:"complete,omitempty" desc:"Mark as completed (optional)"`
}

type readMemoryArgs struct {
	Category string `json:"category,omitempty" desc:"Memory category (contact, thread, journal, pending, preference)"`
	Key      string `json:"key,omitempty" desc:"Specific key to read (optional, omit to list recent entries in category)"`
}

type updateMemoryArgs struct {
	Category string `json:"category" desc:"Memory category"`
	Key      string `json:"key" desc:"Memory key"`
	Value    string `json:"value" desc:"Content to store"`
}

type goalStatusArgs struct {
	GoalID string `json:"goal_id" desc:"Goal ID"`
	Status string `json:"status" desc:"Current status description"`
}

// Builtins returns the built-in catalog in presentation order.
func Builtins(d Deps) []Tool {
	userName := d.Config.Current().User.Name
	return []Tool{
		define("fetch_emails",
			"Fetch recent emails from the inbox. Returns classified emails with sender, subject, body preview, and classification (important/normal/noise).",
			d.fetchEmails),
		define("fetch_sent_emails",
			fmt.Sprintf("Fetch recent sent emails. Use this to check conversation context: whether %s already replied to an email, or to see what was recently sent.", userName),
			d.fetchSentEmails),
		define("send_email",
			"Send an email. Requires human approval before execution.",
			d.sendEmail),
		define("fetch_calendar",
			"Fetch today and tomorrow calendar events. Returns event title, time, location, attendees.",
			d.fetchCalendar),
		define("create_calendar_event",
			"Create a new calendar event. Requires human approval before execution. Provide subject, start/end times (ISO 8601 format), and optionally body, location, attendees, and online meeting flag.",
			d.createCalendarEvent),
		define("read_tasks",
			"Read today's tasks. Returns task name, notes, due date, project, tags, completion status.",
			d.readTasks),
		define("generate_briefing",
			"Generate a structured daily briefing from emails, calendar events, and tasks. Call fetch_emails, fetch_calendar, and read_tasks first to gather data.",
			d.generateBriefing),
		define("save_briefing",
			"Save a generated briefing to the database.",
			d.saveBriefing),
		define("show_notification",
			"Show a desktop notification to the user. Use for time-sensitive or urgent items.",
			d.showNotification),
		define("request_human_review",
			"Queue an action for human review and approval. Use this when you want to send an email, modify the calendar, or are unsure about an action.",
			d.requestHumanReview),
		define("draft_reply",
			"Generate a draft email reply for an important email. The draft will be queued for human review before sending.",
			d.draftReply),
		define("delete_task",
			"Delete (trash) a task. Requires human approval.",
			d.deleteTask),
		define("update_task",
			"Update a task (name, notes, or mark complete).",
			d.updateTask),
		define("read_memory",
			"Read from your persistent memory. Use categories like contact, thread, journal, pending, preference.",
			d.readMemory),
		define("update_memory",
			"Store or update a memory entry. Use for contact notes, thread summaries, pending items, learned preferences.",
			d.updateMemory),
		define("list_goals",
			"List all active goals and their current status.",
			d.listGoals),
		define("update_goal_status",
			"Update the status of a goal after checking it.",
			d.updateGoalStatus),
	}
}

func (d Deps) fetchEmails(ctx context.Context, _ string, args fetchEmailsArgs) (string, error) {
	if d.Mail == nil {
		return "", errNotConfigured
	}
	cfg := d.Config.Current()
	limit := args.Limit
	if limit <= 0 {
		limit = cfg.Email.MaxEmails
	}
	emails, err := d.Mail.Inbox(ctx, limit)
	if err != nil {
		return "", err
	}
	out := make([]map[string]any, 0, len(emails))
	for _, e := range emails {
		out = append(out, map[string]any{
			"id":             e.ID,
			"from":           fmt.Sprintf("%s <%s>", e.FromName, e.FromAddress),
			"subject":        e.Subject,
			"body":           truncate(e.Body, 300),
			"classification": ClassifyEmail(e, cfg),
			"isRead":         e.IsRead,
			"receivedAt":     e.ReceivedAt,
		})
	}
	return marshal(out)
}

func (d Deps) fetchSentEmails(ctx context.Context, _ string, args fetchSentArgs) (string, error) {
	if d.Mail == nil {
		return "", errNotConfigured
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	emails, err := d.Mail.Sent(ctx, limit)
	if err != nil {
		return "", err
	}
	out := make([]map[string]any, 0, len(emails))
	for _, e := range emails {
		out = append(out, map[string]any{
			"to":          fmt.Sprintf("%s <%s>", e.FromName, e.FromAddress),
			"subject":     e.Subject,
			"bodySummary": truncate(e.Body, 300),
			"sentAt":      e.ReceivedAt,
		})
	}
	return marshal(out)
}

func (d Deps) sendEmail(ctx context.Context, _ string, args sendEmailArgs) (string, error) {
	if d.Mail == nil {
		return "", errNotConfigured
	}
	if err := d.Mail.Send(ctx, args.ToAddress, args.ToName, args.Subject, args.Body); err != nil {
		return "", err
	}
	return "Email sent successfully.", nil
}

func (d Deps) fetchCalendar(ctx context.Context, _ string, _ noArgs) (string, error) {
	if d.Calendar == nil {
		return "", errNotConfigured
	}
	loc := d.Config.Current().Location()
	start := store.StartOfDay(d.now().In(loc))
	events, err := d.Calendar.Events(ctx, start, start.AddDate(0, 0, 2))
	if err != nil {
		return "", err
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":        e.ID,
			"title":     e.Title,
			"startTime": e.Start.In(loc).Format(time.RFC3339),
			"endTime":   e.End.In(loc).Format(time.RFC3339),
			"location":  e.Location,
			"isAllDay":  e.IsAllDay,
			"attendees": e.Attendees,
		})
	}
	return marshal(out)
}

func (a *createEventArgs) validate() *internal.ValidationError {
	start, err := parseDateTime(a.StartDateTime, time.UTC)
	if err != nil {
		return &internal.ValidationError{Field: "startDateTime", Reason: err.Error()}
	}
	end, err := parseDateTime(a.EndDateTime, time.UTC)
	if err != nil {
		return &internal.ValidationError{Field: "endDateTime", Reason: err.Error()}
	}
	if !end.After(start) {
		return &internal.ValidationError{Field: "endDateTime", Reason: "must be after startDateTime"}
	}
	return nil
}

func (d Deps) createCalendarEvent(ctx context.Context, _ string, args createEventArgs) (string, error) {
	if d.Calendar == nil {
		return "", errNotConfigured
	}
	loc := d.Config.Current().Location()
	start, _ := parseDateTime(args.StartDateTime, loc)
	end, _ := parseDateTime(args.EndDateTime, loc)
	id, err := d.Calendar.CreateEvent(ctx, Event{
		Title:           args.Subject,
		Start:           start,
		End:             end,
		Body:            args.Body,
		Location:        args.Location,
		Attendees:       args.Attendees,
		IsOnlineMeeting: args.IsOnlineMeeting,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Calendar event created successfully (ID: %s).", id), nil
}

func (d Deps) readTasks(ctx context.Context, _ string, _ noArgs) (string, error) {
	if d.Tasks == nil {
		return "", errNotConfigured
	}
	tasks, err := d.Tasks.Today(ctx)
	if err != nil {
		return "", err
	}
	return marshal(tasks)
}

func (d Deps) generateBriefing(ctx context.Context, sessionID string, args generateBriefingArgs) (string, error) {
	if d.Briefer == nil {
		return "", errors.New("briefing generation not configured")
	}
	b, err := d.Briefer.GenerateBriefing(ctx, sessionID, BriefingInput{
		Emails: args.Emails,
		Events: args.Events,
		Tasks:  args.Tasks,
	})
	if err != nil {
		return "", err
	}
	return marshal(b)
}

func (d Deps) saveBriefing(ctx context.Context, _ string, args saveBriefingArgs) (string, error) {
	data, err := json.Marshal(map[string]any{
		"headline": args.Headline,
		"sections": args.Sections,
		"stats":    args.Stats,
	})
	if err != nil {
		return "", err
	}
	b, err := d.Store.SaveBriefing(ctx, args.Headline, data)
	if err != nil {
		return "", err
	}
	return marshal(map[string]any{"id": b.ID, "generatedAt": b.GeneratedAt})
}

func (d Deps) showNotification(ctx context.Context, _ string, args notificationArgs) (string, error) {
	if d.Notifier == nil {
		return "", errNotConfigured
	}
	if err := d.Notifier.Notify(ctx, args.Title, args.Body); err != nil {
		return "", err
	}
	return "Notification shown.", nil
}

func (d Deps) requestHumanReview(ctx context.Context, sessionID string, args reviewArgs) (string, error) {
	if err := d.Store.EnsureSession(ctx, sessionID, store.TriggerManual); err != nil {
		return "", err
	}
	a, err := d.Store.CreateApproval(ctx, store.Approval{
		SessionID:   sessionID,
		ActionType:  args.ActionType,
		Title:       args.Title,
		Description: args.Description,
		Payload:     args.Data,
		Risk:        safety.RiskMedium,
		ReviewOnly:  true,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Action queued for human review (approval ID: %s). %s", a.ID, QueuedForReview), nil
}

var replyPrefix = regexp.MustCompile(`(?i)^re:\s*`)

func (d Deps) draftReply(ctx context.Context, sessionID string, args draftReplyArgs) (string, error) {
	if d.Drafter == nil {
		return "", errors.New("reply drafting not configured")
	}
	classification := args.Classification
	if classification == "" {
		classification = ClassImportant
	}
	draft, err := d.Drafter.DraftReply(ctx, sessionID, Email{
		ID:          args.EmailID,
		FromName:    args.FromName,
		FromAddress: args.FromAddress,
		Subject:     args.Subject,
		Body:        args.Body,
	}, classification)
	if err != nil {
		return "", err
	}
	if draft == nil || strings.TrimSpace(draft.Content) == "" {
		return "Could not generate a draft for this email.", nil
	}

	payload, err := json.Marshal(sendEmailArgs{
		ToAddress: args.FromAddress,
		ToName:    args.FromName,
		Subject:   "Re: " + replyPrefix.ReplaceAllString(args.Subject, ""),
		Body:      draft.Content,
	})
	if err != nil {
		return "", err
	}
	if err := d.Store.EnsureSession(ctx, sessionID, store.TriggerManual); err != nil {
		return "", err
	}
	if _, err := d.Store.CreateApproval(ctx, store.Approval{
		SessionID:   sessionID,
		ActionType:  "send_email",
		Title:       "Reply to: " + args.Subject,
		Description: fmt.Sprintf("Draft reply to %s <%s>:\n\n%s", args.FromName, args.FromAddress, draft.Content),
		Payload:     payload,
		Risk:        safety.RiskMedium,
	}); err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Draft generated (confidence: %.2f). Queued for your review and approval before sending.", draft.Confidence)
	if draft.Note != "" {
		msg += " Note: " + draft.Note
	}
	return msg, nil
}

func (d Deps) deleteTask(ctx context.Context, _ string, args deleteTaskArgs) (string, error) {
	if d.Tasks == nil {
		return "", errNotConfigured
	}
	if err := d.Tasks.DeleteTask(ctx, args.TaskID); err != nil {
		return "", err
	}
	name := args.TaskName
	if name == "" {
		name = args.TaskID
	}
	return "Task deleted: " + name, nil
}

func (a *updateTaskArgs) validate() *internal.ValidationError {
	if a.Name != nil && *a.Name == "" {
		a.Name = nil
	}
	if a.Name == nil && a.Notes == nil && !a.Complete {
		return &internal.ValidationError{Reason: "nothing to update: set name, notes or complete"}
	}
	return nil
}

func (d Deps) updateTask(ctx context.Context, _ string, args updateTaskArgs) (string, error) {
	if d.Tasks == nil {
		return "", errNotConfigured
	}
	var changes []string
	if args.Name != nil {
		changes = append(changes, fmt.Sprintf("renamed to %q", *args.Name))
	}
	if args.Notes != nil {
		changes = append(changes, "notes updated")
	}
	if args.Complete {
		changes = append(changes, "marked complete")
	}
	if err := d.Tasks.UpdateTask(ctx, args.TaskID, TaskUpdate{Name: args.Name, Notes: args.Notes, Complete: args.Complete}); err != nil {
		return "", err
	}
	return "Task updated: " + strings.Join(changes, ", "), nil
}

func (d Deps) readMemory(ctx context.Context, _ string, args readMemoryArgs) (string, error) {
	if args.Key != "" {
		if args.Category == "" {
			return "", &internal.ValidationError{Tool: "read_memory", Field: "category", Reason: "is required when key is set"}
		}
		entry, err := d.Store.GetMemory(ctx, args.Category, args.Key)
		if errors.Is(err, store.ErrNotFound) {
			return "No memory found for this key.", nil
		}
		if err != nil {
			return "", err
		}
		return marshal(entry)
	}
	entries, err := d.Store.SearchMemory(ctx, args.Category, 50)
	if err != nil {
		return "", err
	}
	if entries == nil {
		entries = []store.MemoryEntry{}
	}
	return marshal(entries)
}

func (d Deps) updateMemory(ctx context.Context, _ string, args updateMemoryArgs) (string, error) {
	if err := d.Store.SetMemory(ctx, args.Category, args.Key, args.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory updated: %s/%s", args.Category, args.Key), nil
}

func (d Deps) listGoals(ctx context.Context, _ string, _ noArgs) (string, error) {
	goals, err := d.Store.Goals(ctx, true)
	if err != nil {
		return "", err
	}
	if goals == nil {
		goals = []store.Goal{}
	}
	return marshal(goals)
}

func (d Deps) updateGoalStatus(ctx context.Context, _ string, args goalStatusArgs) (string, error) {
	if err := d.Store.UpdateGoalStatus(ctx, args.GoalID, args.Status, d.now()); err != nil {
		return "", err
	}
	return "Goal status updated: " + args.GoalID, nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(b), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// parseDateTime accepts RFC 3339 or a zone-less local time in loc.
func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("must be an ISO 8601 date-time, got %q", s)
}
