package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/iksnae/chief-of-staff/internal"
	"go.uber.org/zap"
)

// Live holds the current configuration. Readers call Current on every use so
// a reload takes effect on the next session.
type Live struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewLive wraps an already loaded config.
func NewLive(path string, cfg *Config) *Live {
	l := &Live{path: path}
	l.cur.Store(cfg)
	return l
}

// Static returns a Live that never reloads. Used by tests and one-shot commands.
func Static(cfg *Config) *Live {
	return NewLive("", cfg)
}

// Current returns the active config. Callers must not mutate it.
func (l *Live) Current() *Config {
	return l.cur.Load()
}

// Path is the file the config was loaded from.
func (l *Live) Path() string {
	return l.path
}

// Reload re-reads the file and swaps it in if it parses and validates.
func (l *Live) Reload() error {
	cfg, err := Load(l.path)
	if err != nil {
		return err
	}
	l.cur.Store(cfg)
	return nil
}

// Watch reloads the config whenever the file changes, until ctx is done.
// Invalid edits are logged and the previous config stays active.
func (l *Live) Watch(ctx context.Context, onChange func(*Config)) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace files by rename.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(l.path), err)
	}

	log := internal.Logger().With(zap.String("path", l.path))
	name := filepath.Base(l.path)

	const debounce = 250 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))

		case <-timer.C:
			if err := l.Reload(); err != nil {
				log.Warn("config reload rejected, keeping previous config", zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("autonomy_mode", l.Current().Agent.AutonomyMode))
			if onChange != nil {
				onChange(l.Current())
			}
		}
	}
}
