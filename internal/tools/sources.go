package tools

import (
	"context"
	"strings"
	"time"

	"github.com/iksnae/chief-of-staff/internal/config"
)

// Email classifications.
const (
	ClassImportant = "important"
	ClassNormal    = "normal"
	ClassNoise     = "noise"
)

// Email is one inbox or sent message.
type Email struct {
	ID          string    `json:"id" yaml:"id"`
	FromName    string    `json:"from_name" yaml:"from_name"`
	FromAddress string    `json:"from_address" yaml:"from_address"`
	Subject     string    `json:"subject" yaml:"subject"`
	Body        string    `json:"body" yaml:"body"`
	ReceivedAt  time.Time `json:"received_at" yaml:"received_at"`
	IsRead      bool      `json:"is_read" yaml:"is_read"`
	Importance  string    `json:"importance,omitempty" yaml:"importance,omitempty"`
}

// Event is a calendar entry.
type Event struct {
	ID              string    `json:"id" yaml:"id"`
	Title           string    `json:"title" yaml:"title"`
	Start           time.Time `json:"start" yaml:"start"`
	End             time.Time `json:"end" yaml:"end"`
	Location        string    `json:"location,omitempty" yaml:"location,omitempty"`
	Body            string    `json:"body,omitempty" yaml:"body,omitempty"`
	IsAllDay        bool      `json:"is_all_day" yaml:"is_all_day"`
	IsOnlineMeeting bool      `json:"is_online_meeting,omitempty" yaml:"is_online_meeting,omitempty"`
	Attendees       []string  `json:"attendees,omitempty" yaml:"attendees,omitempty"`
}

// Task is a to-do item.
type Task struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Notes     string   `json:"notes,omitempty" yaml:"notes,omitempty"`
	DueDate   string   `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Project   string   `json:"project,omitempty" yaml:"project,omitempty"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Completed bool     `json:"completed" yaml:"completed"`
}

// TaskUpdate lists the task fields to change. Nil fields are left alone.
type TaskUpdate struct {
	Name     *string
	Notes    *string
	Complete bool
}

// Mail reads and sends email.
type Mail interface {
	Inbox(ctx context.Context, limit int) ([]Email, error)
	Sent(ctx context.Context, limit int) ([]Email, error)
	Send(ctx context.Context, toAddress, toName, subject, body string) error
}

// Calendar reads and creates events.
type Calendar interface {
	Events(ctx context.Context, from, to time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, e Event) (string, error)
}

// Tasks reads and changes to-do items.
type Tasks interface {
	Today(ctx context.Context) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateTask(ctx context.Context, id string, u TaskUpdate) error
}

// Notifier shows a user-facing notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// BriefingItem is one line of a briefing section.
type BriefingItem struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Urgency string `json:"urgency"`
	Time    string `json:"time,omitempty"`
	Source  string `json:"source"`
}

// BriefingSection groups items by kind: priority, schedule, tasks,
// low_priority or tomorrow.
type BriefingSection struct {
	Type  string         `json:"type"`
	Items []BriefingItem `json:"items"`
}

// Briefing is a generated daily briefing.
type Briefing struct {
	Headline string            `json:"headline"`
	Sections []BriefingSection `json:"sections"`
}

// BriefingInput is the raw material for a briefing.
type BriefingInput struct {
	Emails []map[string]any
	Events []map[string]any
	Tasks  []map[string]any
}

// Draft is a generated reply.
type Draft struct {
	EmailID    string  `json:"emailId"`
	Content    string  `json:"content"`
	Tone       string  `json:"tone"`
	Confidence float64 `json:"confidence"`
	Note       string  `json:"note,omitempty"`
}

// Briefer turns emails, events and tasks into a briefing.
type Briefer interface {
	GenerateBriefing(ctx context.Context, sessionID string, in BriefingInput) (*Briefing, error)
}

// Drafter writes a reply to one email. A nil draft means none could be made.
type Drafter interface {
	DraftReply(ctx context.Context, sessionID string, e Email, classification string) (*Draft, error)
}

// ClassifyEmail sorts an email into important, normal or noise using the
// configured noise patterns, the mail server's importance flag and the VIP
// contact patterns.
func ClassifyEmail(e Email, cfg *config.Config) string {
	addr := strings.ToLower(e.FromAddress)
	name := strings.ToLower(e.FromName)
	subject := strings.ToLower(e.Subject)
	for _, p := range cfg.Email.NoisePatterns {
		p = strings.ToLower(p)
		if p == "" {
			continue
		}
		if strings.Contains(addr, p) || strings.Contains(subject, p) || strings.Contains(name, p) {
			return ClassNoise
		}
	}
	if strings.EqualFold(e.Importance, "high") {
		return ClassImportant
	}
	for _, vip := range cfg.VIPContacts {
		p := strings.ToLower(vip.Pattern)
		if p != "" && (strings.Contains(addr, p) || strings.Contains(name, p)) {
			return ClassImportant
		}
	}
	return ClassNormal
}
