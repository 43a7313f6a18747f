// Package watcher reports file creations and deletions under a workspace root.
//
// Only two kinds of change are surfaced: a path appearing (KindCreate) and a
// path disappearing (KindDelete). A move inside the tree shows up as a delete
// of the old path plus a create of the new one; pairing them is left to the
// consumer. Paths are filtered with doublestar globs evaluated against the
// root-relative, slash-separated path, so "**/*.ts" matches at any depth and
// "**/node_modules/**" prunes whole directories.
package watcher

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("path does not exist")
	ErrNotDirectory  = errors.New("watch root is not a directory")
	ErrBadPattern    = errors.New("invalid glob pattern")
)

// Kind is the kind of change observed for a path.
type Kind uint8

const (
	// KindCreate indicates a path was created or moved into place.
	KindCreate Kind = iota + 1
	// KindDelete indicates a path was removed or moved away.
	KindDelete
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event represents a file system change.
type Event struct {
	// Kind is the change that occurred.
	Kind Kind

	// Path is the absolute path of the affected file.
	Path string

	// Timestamp is when the event was observed.
	Timestamp time.Time
}

// Stats provides watcher status information.
type Stats struct {
	// WatchedPaths is the number of directories being watched.
	WatchedPaths int

	// PendingEvents is the number of events waiting to be delivered.
	PendingEvents int

	// TotalEvents is the total number of events delivered.
	TotalEvents int64

	// Dropped is the number of events lost to a full buffer.
	Dropped int64

	// Errors is the total number of errors encountered.
	Errors int64

	// LastError is the most recent error, if any.
	LastError error

	// StartTime is when the watcher was started.
	StartTime time.Time
}

// Watcher monitors a directory tree for creations and deletions.
type Watcher interface {
	// Root returns the absolute directory being watched.
	Root() string

	// Events returns the channel of change events.
	// The channel is closed when the watcher is closed.
	Events() <-chan Event

	// Errors returns the channel of watcher errors.
	// The channel is closed when the watcher is closed.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error

	// Stats returns watcher statistics.
	Stats() Stats

	// IsWatching returns true if the directory is being watched.
	IsWatching(path string) bool

	// WatchedPaths returns all directories being watched.
	WatchedPaths() []string
}

// Handler receives the events that arrived together.
type Handler func(events []Event)

// ErrorHandler is a function that handles watcher errors.
type ErrorHandler func(err error)

// EventFilter is a function that filters events.
// Return true to keep the event, false to discard it.
type EventFilter func(event Event) bool

// DefaultPatterns are the files a TypeScript project cares about.
var DefaultPatterns = []string{"**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx"}

// DefaultIgnores exclude dependency trees.
var DefaultIgnores = []string{"**/node_modules/**"}

// Config holds watcher configuration options.
type Config struct {
	// Patterns select the files to report. Empty means every file.
	Patterns []string

	// Ignores exclude files and prune directories.
	Ignores []string

	// BufferSize is the size of the event and error channels.
	// Default: 256
	BufferSize int

	// EventFilter is an optional filter applied after glob matching.
	EventFilter EventFilter
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Patterns:   append([]string(nil), DefaultPatterns...),
		Ignores:    append([]string(nil), DefaultIgnores...),
		BufferSize: 256,
	}
}

// Option configures a watcher.
type Option func(*Config)

// WithPatterns sets the include globs.
func WithPatterns(patterns []string) Option {
	return func(c *Config) {
		c.Patterns = patterns
	}
}

// WithIgnores sets the exclude globs.
func WithIgnores(ignores []string) Option {
	return func(c *Config) {
		c.Ignores = ignores
	}
}

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithEventFilter sets the event filter.
func WithEventFilter(filter EventFilter) Option {
	return func(c *Config) {
		c.EventFilter = filter
	}
}

// Run drains w until ctx is cancelled or the watcher is closed. Events that
// are already queued when one arrives are delivered together in a single
// handler call. Handlers run on the calling goroutine.
func Run(ctx context.Context, w Watcher, handler Handler, onError ErrorHandler) {
	events := w.Events()
	errs := w.Errors()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			handler(drain(events, event))

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// drain collects first plus whatever is immediately available on events.
func drain(events <-chan Event, first Event) []Event {
	batch := []Event{first}
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return batch
			}
			batch = append(batch, event)
		default:
			return batch
		}
	}
}
