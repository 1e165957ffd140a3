package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/chief-of-staff/internal/tools"
	"gopkg.in/yaml.v3"
)

// SampleEmails returns an inbox with one noise, one VIP and one ordinary email.
func SampleEmails(now time.Time) []tools.Email {
	return []tools.Email{
		{
			ID: "m1", FromName: "Weekly Deals", FromAddress: "newsletter@shop.example",
			Subject: "50% off everything", Body: "Click to unsubscribe.", ReceivedAt: now.Add(-3 * time.Hour),
		},
		{
			ID: "m2", FromName: "Ana Ruiz", FromAddress: "ana@fund.example",
			Subject: "Term sheet", Body: "Can we talk Friday about the term sheet?",
			ReceivedAt: now.Add(-2 * time.Hour), Importance: "high",
		},
		{
			ID: "m3", FromName: "Bob Lee", FromAddress: "bob@example.com",
			Subject: "Lunch?", Body: "Free Thursday?", ReceivedAt: now.Add(-1 * time.Hour),
		},
	}
}

// SampleEvents returns a meeting starting in 10 minutes and one tomorrow.
func SampleEvents(now time.Time) []tools.Event {
	return []tools.Event{
		{
			ID: "e1", Title: "Investor sync", Start: now.Add(10 * time.Minute), End: now.Add(40 * time.Minute),
			Attendees: []string{"ana@fund.example"},
		},
		{
			ID: "e2", Title: "Team planning", Start: now.Add(24 * time.Hour), End: now.Add(25 * time.Hour),
		},
	}
}

// SampleTasks returns two open tasks.
func SampleTasks() []tools.Task {
	return []tools.Task{
		{ID: "t1", Name: "Review board deck", Project: "Fundraise", Tags: []string{"urgent"}},
		{ID: "t2", Name: "Expense report"},
	}
}

// SourcesFile is the on-disk layout of the local data source.
type SourcesFile struct {
	Emails []tools.Email `yaml:"emails"`
	Sent   []tools.Email `yaml:"sent,omitempty"`
	Events []tools.Event `yaml:"events"`
	Tasks  []tools.Task  `yaml:"tasks"`
}

// WriteSourcesFile writes a local sources file into dir and returns its path.
func WriteSourcesFile(t *testing.T, dir string, data SourcesFile) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to encode sources: %v", err)
	}
	path := filepath.Join(dir, "sources.yaml")
	if err := os.WriteFile(path, out, 0644); err != nil {
		t.Fatalf("Failed to write sources file: %v", err)
	}
	return path
}
