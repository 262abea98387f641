// Package watch re-runs work when files under the project change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/stackrun/internal/match"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultDebounce  = 300 * time.Millisecond
	DefaultQueueSize = 64
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("watcher closed")

// Config configures a Watcher.
type Config struct {
	// Root is the directory ignore patterns are relative to.
	Root string
	// Paths are watched recursively. Relative paths resolve against Root.
	Paths []string
	// Ignore holds glob patterns such as "**/node_modules/**".
	Ignore []string
	// Debounce is the quiet period required before a run.
	Debounce time.Duration
	// QueueSize bounds pending change events; overflow is dropped.
	QueueSize int
}

// Trigger is invoked once per quiet period with the changed paths.
// It runs on the watcher's goroutine, so invocations never overlap.
type Trigger func(ctx context.Context, changed []string)

// Watcher turns file system events into debounced, non-overlapping triggers.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	events  chan string
	dropped atomic.Int64

	mu      sync.Mutex
	watched map[string]bool
	closed  bool
	start   sync.Once

	debugLog func(format string, args ...interface{})
}

// New creates a watcher and registers every configured path.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.Root = wd
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	cfg.Root = root
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"."}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		events:   make(chan string, cfg.QueueSize),
		watched:  make(map[string]bool),
		debugLog: func(format string, args ...interface{}) {},
	}

	for _, p := range cfg.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		if err := w.addRecursive(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
	}

	return w, nil
}

// SetDebugLog sets the debug logging function.
func (w *Watcher) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		w.debugLog = fn
	}
}

// Start begins queueing file system events without triggering anything.
// Changes made between Start and Run cause one run as soon as Run begins.
// Calling Start again is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.start.Do(func() { go w.forward(ctx) })
}

// Run blocks until ctx is done, calling trigger after each burst of changes
// has been quiet for the debounce period. Changes arriving while trigger runs
// queue up and cause one more run afterwards.
func (w *Watcher) Run(ctx context.Context, trigger Trigger) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}

	w.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-w.events:
			changed := map[string]bool{path: true}
			timer := time.NewTimer(w.cfg.Debounce)
		quiet:
			for {
				select {
				case p := <-w.events:
					changed[p] = true
					timer.Reset(w.cfg.Debounce)
				case <-timer.C:
					break quiet
				case <-ctx.Done():
					timer.Stop()
					return nil
				}
			}

			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			w.debugLog("[watch] %d paths changed, triggering run", len(paths))
			trigger(ctx, paths)
		}
	}
}

// Notify queues a change without blocking. It reports false when the queue
// is full and the change was dropped; a run is already pending in that case.
func (w *Watcher) Notify(path string) bool {
	select {
	case w.events <- path:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped returns how many changes were discarded because the queue was full.
func (w *Watcher) Dropped() int64 {
	return w.dropped.Load()
}

// WatchedPaths returns every directory registered with fsnotify, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for p := range w.watched {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close releases the underlying file watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.fsw.Close()
}

// forward moves relevant fsnotify events into the bounded queue.
func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.debugLog("[watch] error: %v", err)
		}
	}
}

// handle filters one fsnotify event.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if w.ignored(ev.Name) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.debugLog("[watch] adding %s: %v", ev.Name, err)
			}
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.watched, ev.Name)
		w.mu.Unlock()
	}

	if !w.Notify(w.rel(ev.Name)) {
		w.debugLog("[watch] queue full, dropped %s", ev.Name)
	}
}

// addRecursive watches dir and every non-ignored directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.ignored(p) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watched[p] {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("adding %s: %w", p, err)
		}
		w.watched[p] = true
		return nil
	})
}

// ignored reports whether path matches an ignore pattern.
func (w *Watcher) ignored(path string) bool {
	return match.Any(w.rel(path), w.cfg.Ignore)
}

// rel returns path relative to the root, slash separated.
func (w *Watcher) rel(path string) string {
	r, err := filepath.Rel(w.cfg.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(r)
}
