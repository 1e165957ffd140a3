// Package sources provides a file-backed mail, calendar and task source for
// running the agent without external providers.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a local workspace. Sent emails keep the
// recipient in the From fields.
type File struct {
	Emails []tools.Email `yaml:"emails"`
	Sent   []tools.Email `yaml:"sent,omitempty"`
	Events []tools.Event `yaml:"events"`
	Tasks  []tools.Task  `yaml:"tasks"`
}

// Local implements tools.Mail, tools.Calendar and tools.Tasks over a YAML
// file. The file is re-read on every call so hand edits show up without a
// restart; writes replace it atomically.
type Local struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var (
	_ tools.Mail     = (*Local)(nil)
	_ tools.Calendar = (*Local)(nil)
	_ tools.Tasks    = (*Local)(nil)
)

// ErrTaskNotFound is returned for an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// OpenLocal opens the workspace at path, creating an empty one if missing.
func OpenLocal(path string, now func() time.Time) (*Local, error) {
	if now == nil {
		now = time.Now
	}
	l := &Local{path: path, now: now}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := l.write(&File{}); err != nil {
			return nil, err
		}
		internal.Logger().Info("created local sources file", zap.String("path", path))
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat sources file: %w", err)
	}
	return l, nil
}

// Path returns the workspace file.
func (l *Local) Path() string {
	return l.path
}

func (l *Local) read() (*File, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file %s: %w", l.path, err)
	}
	return &f, nil
}

func (l *Local) write(f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create sources directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".sources-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write sources file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write sources file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write sources file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace sources file: %w", err)
	}
	return nil
}

// update loads the file, applies fn and writes the result back.
func (l *Local) update(fn func(*File) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.read()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return l.write(f)
}

func (l *Local) snapshot() (*File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Inbox returns the newest emails first.
func (l *Local) Inbox(ctx context.Context, limit int) ([]tools.Email, error) {
	f, err := l.snapshot()
	if err != nil {
		return nil, err
	}
	return newestFirst(f.Emails, limit), nil
}

// Sent returns the newest sent emails first.
func (l *Local) Sent(ctx context.Context, limit int) ([]tools.Email, error) {
	f, err := l.snapshot()
	if err != nil {
		return nil, err
	}
	return newestFirst(f.Sent, limit), nil
}

// Send records the email in the sent folder.
func (l *Local) Send(ctx context.Context, toAddress, toName, subject, body string) error {
	if toAddress == "" {
		return errors.New("recipient address is required")
	}
	return l.update(func(f *File) error {
		f.Sent = append(f.Sent, tools.Email{
			ID:          uuid.NewString(),
			FromName:    toName,
			FromAddress: toAddress,
			Subject:     subject,
			Body:        body,
			ReceivedAt:  l.now().UTC(),
			IsRead:      true,
		})
		return nil
	})
}

// MarkRead flags an inbox email as read.
func (l *Local) MarkRead(ctx context.Context, id string) error {
	return l.update(func(f *File) error {
		for i := range f.Emails {
			if f.Emails[i].ID == id {
				f.Emails[i].IsRead = true
				return nil
			}
		}
		return fmt.Errorf("email %s not found", id)
	})
}

// Events returns events overlapping [from, to), earliest first.
func (l *Local) Events(ctx context.Context, from, to time.Time) ([]tools.Event, error) {
	f, err := l.snapshot()
	if err != nil {
		return nil, err
	}
	var out []tools.Event
	for _, e := range f.Events {
		if e.End.After(from) && e.Start.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// CreateEvent appends an event and returns its id.
func (l *Local) CreateEvent(ctx context.Context, e tools.Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := l.update(func(f *File) error {
		f.Events = append(f.Events, e)
		return nil
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// Today returns open tasks and tasks due today or earlier.
func (l *Local) Today(ctx context.Context) ([]tools.Task, error) {
	f, err := l.snapshot()
	if err != nil {
		return nil, err
	}
	today := l.now().Format("2006-01-02")
	var out []tools.Task
	for _, t := range f.Tasks {
		if t.Completed {
			continue
		}
		if t.DueDate != "" && t.DueDate > today {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTask removes a task.
func (l *Local) DeleteTask(ctx context.Context, id string) error {
	return l.update(func(f *File) error {
		for i, t := range f.Tasks {
			if t.ID == id {
				f.Tasks = append(f.Tasks[:i], f.Tasks[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	})
}

// UpdateTask applies u to a task.
func (l *Local) UpdateTask(ctx context.Context, id string, u tools.TaskUpdate) error {
	return l.update(func(f *File) error {
		for i := range f.Tasks {
			t := &f.Tasks[i]
			if t.ID != id {
				continue
			}
			if u.Name != nil {
				t.Name = *u.Name
			}
			if u.Notes != nil {
				t.Notes = *u.Notes
			}
			if u.Complete {
				t.Completed = true
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	})
}

func newestFirst(emails []tools.Email, limit int) []tools.Email {
	out := append([]tools.Email(nil), emails...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
