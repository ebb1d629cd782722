// Package watcher reports batches of file changes under a project root.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"affected/internal/errors"
	"affected/internal/slogutil"
	"affected/internal/suites"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with each debounced batch. Calls never overlap.
type ChangeHandler func(ctx context.Context, events []Event)

// Config contains watcher configuration
type Config struct {
	DebounceMs     int      `json:"debounceMs" mapstructure:"debounceMs"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns"`
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		DebounceMs: 300,
		IgnorePatterns: []string{
			"**/node_modules",
			"**/.git",
			"**/.affected",
			"**/*.log",
			"**/*.tmp",
		},
	}
}

// Watcher watches a directory tree with fsnotify.
type Watcher struct {
	config  Config
	logger  *slog.Logger
	handler ChangeHandler

	root    string
	runMu   sync.Mutex
	dirs    atomic.Int64
	batches atomic.Int64
	events  atomic.Int64
}

// New creates a new file system watcher
func New(config Config, logger *slog.Logger, handler ChangeHandler) *Watcher {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Watcher{
		config:  config,
		logger:  logger,
		handler: handler,
	}
}

// Run watches root until ctx is done. Directories created while running are
// watched as well.
func (w *Watcher) Run(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.New(errors.InvalidInput, "invalid watch root", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return errors.Newf(errors.InvalidInput, "watch root %s is not a directory", abs)
	}
	w.root = abs

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(errors.InternalError, "failed to start file watcher", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, abs); err != nil {
		return errors.New(errors.InternalError, "failed to watch directory tree", err)
	}

	batch := NewBatchDebouncer(w.delay(), func(events []Event) { w.dispatch(ctx, events) })
	defer batch.Cancel()

	w.logger.Info("Watching for changes",
		"root", abs,
		"directories", w.dirs.Load(),
		"debounceMs", w.config.DebounceMs,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("File watcher stopped", "batches", w.batches.Load())
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if e, ok := w.translate(fw, ev); ok {
				batch.Add(e)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) delay() time.Duration {
	if w.config.DebounceMs <= 0 {
		return 0
	}
	return time.Duration(w.config.DebounceMs) * time.Millisecond
}

// addTree registers dir and every non-ignored directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories that vanish mid-walk are skipped.
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.IsIgnored(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return err
		}
		w.dirs.Add(1)
		return nil
	})
}

// translate maps an fsnotify event to an Event. Chmod-only and ignored
// events are dropped.
func (w *Watcher) translate(fw *fsnotify.Watcher, ev fsnotify.Event) (Event, bool) {
	if w.IsIgnored(ev.Name) {
		return Event{}, false
	}

	var typ EventType
	switch {
	case ev.Has(fsnotify.Create):
		typ = EventCreate
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
	case ev.Has(fsnotify.Write):
		typ = EventModify
	case ev.Has(fsnotify.Remove):
		typ = EventDelete
	case ev.Has(fsnotify.Rename):
		typ = EventRename
	default:
		return Event{}, false
	}

	return Event{Type: typ, Path: ev.Name, Timestamp: time.Now()}, true
}

func (w *Watcher) dispatch(ctx context.Context, events []Event) {
	if ctx.Err() != nil || w.handler == nil {
		return
	}
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.batches.Add(1)
	w.events.Add(int64(len(events)))
	w.logger.Debug("Changes detected", "events", len(events))
	w.handler(ctx, events)
}

// IsIgnored checks if a path matches ignore patterns. Absolute paths are
// matched relative to the watch root.
func (w *Watcher) IsIgnored(path string) bool {
	rel := path
	if filepath.IsAbs(path) && w.root != "" {
		r, err := filepath.Rel(w.root, path)
		if err != nil {
			return false
		}
		rel = r
	}
	return suites.Ignored(w.config.IgnorePatterns, filepath.ToSlash(rel))
}

// Stats holds watcher counters.
type Stats struct {
	Directories int64 `json:"directories"`
	Batches     int64 `json:"batches"`
	Events      int64 `json:"events"`
}

// Stats returns watcher statistics
func (w *Watcher) Stats() Stats {
	return Stats{
		Directories: w.dirs.Load(),
		Batches:     w.batches.Load(),
		Events:      w.events.Load(),
	}
}
