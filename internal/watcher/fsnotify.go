package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"
)

// FSNotifyWatcher implements Watcher using fsnotify. fsnotify watches single
// directories, so every directory under the root is added individually and
// new directories are added as they appear.
type FSNotifyWatcher struct {
	mu sync.RWMutex

	watcher *fsnotify.Watcher
	config  Config
	matcher *Matcher
	root    string
	log     commonlog.Logger

	// Watched directories
	paths map[string]bool

	// Output channels
	events chan Event
	errors chan error

	// Stats
	startTime   time.Time
	totalEvents atomic.Int64
	dropped     atomic.Int64
	totalErrors atomic.Int64
	lastError   error

	// Lifecycle
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// New creates a watcher over every directory under root.
func New(root string, opts ...Option) (*FSNotifyWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPathNotExist
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	matcher, err := NewMatcher(absRoot, config.Patterns, config.Ignores)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	w := &FSNotifyWatcher{
		watcher:   fsw,
		config:    config,
		matcher:   matcher,
		root:      absRoot,
		log:       commonlog.GetLogger("lsp-typescript.watcher"),
		paths:     make(map[string]bool),
		events:    make(chan Event, bufSize),
		errors:    make(chan error, bufSize),
		startTime: time.Now(),
		closeCh:   make(chan struct{}),
	}

	if err := w.watchTree(absRoot); err != nil {
		fsw.Close()
		return nil, err
	}

	w.closedWg.Add(1)
	go w.processLoop()

	w.log.Debugf("watching %s (%d directories)", absRoot, len(w.paths))
	return w, nil
}

// Root returns the watched root directory.
func (w *FSNotifyWatcher) Root() string {
	return w.root
}

// watchTree adds dir and every non-excluded directory beneath it.
func (w *FSNotifyWatcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			// Skip unreadable entries, continue walking
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.matcher.SkipDir(p) {
			return filepath.SkipDir
		}
		if watchErr := w.watchDir(p); watchErr != nil {
			if p == dir {
				return watchErr
			}
			w.recordError(watchErr)
		}
		return nil
	})
}

func (w *FSNotifyWatcher) watchDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.paths[dir] = true
	return nil
}

// forget drops a directory (and everything below it) from the watched set.
// fsnotify removes the underlying watch itself when the directory goes away.
func (w *FSNotifyWatcher) forget(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.paths[dir] {
		return false
	}
	prefix := dir + string(filepath.Separator)
	for p := range w.paths {
		if p == dir || len(p) > len(prefix) && p[:len(prefix)] == prefix {
			delete(w.paths, p)
		}
	}
	return true
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()

	close(w.events)
	close(w.errors)

	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FSNotifyWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedPaths:  len(w.paths),
		PendingEvents: len(w.events),
		TotalEvents:   w.totalEvents.Load(),
		Dropped:       w.dropped.Load(),
		Errors:        w.totalErrors.Load(),
		LastError:     w.lastError,
		StartTime:     w.startTime,
	}
}

// IsWatching returns true if the directory is being watched.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[absPath]
}

// WatchedPaths returns all watched directories.
func (w *FSNotifyWatcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	return paths
}

// processLoop handles incoming fsnotify events.
func (w *FSNotifyWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(err)
			w.sendError(err)
		}
	}
}

// handleFSEvent converts and dispatches an fsnotify event.
func (w *FSNotifyWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	kind := convertOp(fsEvent.Op)
	if kind == 0 {
		return
	}

	path := filepath.Clean(fsEvent.Name)

	switch kind {
	case KindCreate:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !w.matcher.SkipDir(path) {
				if err := w.watchTree(path); err != nil {
					w.recordError(err)
				}
			}
			return
		}
	case KindDelete:
		if w.forget(path) {
			return
		}
	}

	if !w.matcher.Match(path) {
		return
	}

	event := Event{
		Kind:      kind,
		Path:      path,
		Timestamp: time.Now(),
	}

	if w.config.EventFilter != nil && !w.config.EventFilter(event) {
		return
	}

	w.sendEvent(event)
}

// convertOp maps an fsnotify operation onto the two kinds reported.
// A rename is reported as a delete of the old name; the new name arrives as
// its own create.
func convertOp(fsOp fsnotify.Op) Kind {
	switch {
	case fsOp.Has(fsnotify.Remove), fsOp.Has(fsnotify.Rename):
		return KindDelete
	case fsOp.Has(fsnotify.Create):
		return KindCreate
	default:
		return 0
	}
}

// sendEvent sends an event to the output channel.
func (w *FSNotifyWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.totalEvents.Add(1)
	default:
		w.dropped.Add(1)
		w.recordError(errors.New("event channel full, dropping event"))
	}
}

// sendError sends an error to the output channel.
func (w *FSNotifyWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// recordError records an error in stats.
func (w *FSNotifyWatcher) recordError(err error) {
	w.totalErrors.Add(1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
	w.log.Debugf("watch error: %s", err)
}

var _ Watcher = (*FSNotifyWatcher)(nil)
