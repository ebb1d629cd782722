package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affected/internal/errors"
	"affected/internal/slogutil"
)

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.String())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 300, config.DebounceMs)
	assert.Contains(t, config.IgnorePatterns, "**/node_modules")
	assert.Contains(t, config.IgnorePatterns, "**/.git")
}

func TestWatcherIsIgnored(t *testing.T) {
	w := New(DefaultConfig(), nil, nil)
	w.root = "/repo"

	tests := []struct {
		path string
		want bool
	}{
		{"/repo/src/a.js", false},
		{"/repo/node_modules/pad/index.js", true},
		{"/repo/packages/x/node_modules", true},
		{"/repo/.git/index", true},
		{"/repo/debug.log", true},
		{"/repo/.affected/cache.db", true},
		{"src/b.ts", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.IsIgnored(tt.path))
		})
	}
}

func TestRunRejectsMissingRoot(t *testing.T) {
	w := New(DefaultConfig(), nil, nil)
	err := w.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidInput))
}

type recorder struct {
	mu      sync.Mutex
	batches [][]Event
	signal  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ context.Context, events []Event) {
	r.mu.Lock()
	r.batches = append(r.batches, events)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) paths() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for _, b := range r.batches {
		for _, e := range b {
			out[e.Path] = true
		}
	}
	return out
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}
}

func startWatcher(t *testing.T, root string, rec *recorder) *Watcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DebounceMs = 50
	w := New(cfg, slogutil.NewDiscardLogger(), rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, root) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	require.Eventually(t, func() bool { return w.Stats().Directories > 0 }, 5*time.Second, 10*time.Millisecond)
	return w
}

func TestRunReportsChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pad"), 0755))

	rec := newRecorder()
	w := startWatcher(t, root, rec)

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pad", "index.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.js"), []byte("export {}"), 0644))
	rec.wait(t)

	got := rec.paths()
	assert.True(t, got[filepath.Join(root, "src", "a.js")])
	assert.False(t, got[filepath.Join(root, "node_modules", "pad", "index.js")])
	assert.GreaterOrEqual(t, w.Stats().Batches, int64(1))
}

func TestRunWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	startWatcher(t, root, rec)

	dir := filepath.Join(root, "lib")
	require.NoError(t, os.Mkdir(dir, 0755))
	rec.wait(t)

	file := filepath.Join(dir, "b.js")
	require.Eventually(t, func() bool {
		if err := os.WriteFile(file, []byte("export {}"), 0644); err != nil {
			return false
		}
		select {
		case <-rec.signal:
		case <-time.After(500 * time.Millisecond):
		}
		return rec.paths()[file]
	}, 5*time.Second, 10*time.Millisecond)
}

// BatchDebouncer tests

func TestBatchDebouncerCoalesces(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	b := NewBatchDebouncer(50*time.Millisecond, func(events []Event) {
		mu.Lock()
		got = events
		mu.Unlock()
	})

	b.Add(Event{Type: EventCreate, Path: "a.js"})
	b.Add(Event{Type: EventCreate, Path: "b.js"})
	b.Add(Event{Type: EventModify, Path: "a.js"})
	assert.Equal(t, 2, b.EventCount())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "a.js", got[0].Path)
	assert.Equal(t, EventModify, got[0].Type)
	assert.Equal(t, "b.js", got[1].Path)
	assert.Equal(t, 0, b.EventCount())
}

func TestBatchDebouncerCancel(t *testing.T) {
	var mu sync.Mutex
	called := false
	b := NewBatchDebouncer(50*time.Millisecond, func([]Event) {
		mu.Lock()
		called = true
		mu.Unlock()
	})

	b.Add(Event{Type: EventCreate, Path: "a.js"})
	b.Cancel()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called, "emit should not run after cancel")
	assert.Equal(t, 0, b.EventCount())
}

func TestBatchDebouncerFlush(t *testing.T) {
	var got []Event
	b := NewBatchDebouncer(time.Hour, func(events []Event) { got = events })

	b.Add(Event{Type: EventDelete, Path: "a.js"})
	b.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, EventDelete, got[0].Type)
}

func TestBatchDebouncerNoEmitWithNoEvents(t *testing.T) {
	called := false
	b := NewBatchDebouncer(10*time.Millisecond, func([]Event) { called = true })
	b.Flush()
	assert.False(t, called)
}
