package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iksnae/chief-of-staff/internal/tools"
)

// SentEmail is an email sent through FakeSources.
type SentEmail struct {
	ToAddress, ToName, Subject, Body string
}

// Note is a notification shown through FakeSources.
type Note struct {
	Title, Body string
}

// FakeSources is an in-memory mail, calendar, task list and notifier.
type FakeSources struct {
	mu sync.Mutex

	InboxEmails []tools.Email
	SentEmails  []tools.Email
	EventList   []tools.Event
	TaskList    []tools.Task

	Outbox  []SentEmail
	Created []tools.Event
	Notes   []Note
	Deleted []string
	Updated map[string]tools.TaskUpdate

	// SendErr fails every Send when set.
	SendErr error
	sends   int
}

var (
	_ tools.Mail     = (*FakeSources)(nil)
	_ tools.Calendar = (*FakeSources)(nil)
	_ tools.Tasks    = (*FakeSources)(nil)
	_ tools.Notifier = (*FakeSources)(nil)
)

// NewFakeSources returns empty sources.
func NewFakeSources() *FakeSources {
	return &FakeSources{Updated: make(map[string]tools.TaskUpdate)}
}

func (f *FakeSources) Inbox(_ context.Context, limit int) ([]tools.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return head(f.InboxEmails, limit), nil
}

func (f *FakeSources) Sent(_ context.Context, limit int) ([]tools.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return head(f.SentEmails, limit), nil
}

func (f *FakeSources) Send(_ context.Context, toAddress, toName, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Outbox = append(f.Outbox, SentEmail{ToAddress: toAddress, ToName: toName, Subject: subject, Body: body})
	return nil
}

// Sends counts Send calls, including failed ones.
func (f *FakeSources) Sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func (f *FakeSources) Events(_ context.Context, from, to time.Time) ([]tools.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tools.Event
	for _, e := range f.EventList {
		if e.End.After(from) && e.Start.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *FakeSources) CreateEvent(_ context.Context, e tools.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = fmt.Sprintf("evt-%d", len(f.Created)+1)
	f.Created = append(f.Created, e)
	f.EventList = append(f.EventList, e)
	return e.ID, nil
}

func (f *FakeSources) Today(context.Context) ([]tools.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tools.Task(nil), f.TaskList...), nil
}

func (f *FakeSources) DeleteTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.TaskList {
		if t.ID == id {
			f.TaskList = append(f.TaskList[:i], f.TaskList[i+1:]...)
			f.Deleted = append(f.Deleted, id)
			return nil
		}
	}
	return errors.New("task not found: " + id)
}

func (f *FakeSources) UpdateTask(_ context.Context, id string, u tools.TaskUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.TaskList {
		if f.TaskList[i].ID != id {
			continue
		}
		if u.Name != nil {
			f.TaskList[i].Name = *u.Name
		}
		if u.Notes != nil {
			f.TaskList[i].Notes = *u.Notes
		}
		if u.Complete {
			f.TaskList[i].Completed = true
		}
		f.Updated[id] = u
		return nil
	}
	return errors.New("task not found: " + id)
}

func (f *FakeSources) Notify(_ context.Context, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notes = append(f.Notes, Note{Title: title, Body: body})
	return nil
}

// Notifications returns a copy of the shown notifications.
func (f *FakeSources) Notifications() []Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Note(nil), f.Notes...)
}

// AddEmail appends an inbox email.
func (f *FakeSources) AddEmail(e tools.Email) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InboxEmails = append(f.InboxEmails, e)
}

func head[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		s = s[:n]
	}
	return append([]T(nil), s...)
}
