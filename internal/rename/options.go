package rename

import (
	"time"

	"github.com/dshills/lsp-typescript/internal/metrics"
	"github.com/dshills/lsp-typescript/internal/watcher"
)

// DefaultDebounce is the window, measured from the first event of a burst,
// during which events are collected before classification.
const DefaultDebounce = 10 * time.Millisecond

// WatcherFactory creates the watcher for a root.
type WatcherFactory func(root string, opts ...watcher.Option) (watcher.Watcher, error)

type options struct {
	debounce   time.Duration
	patterns   []string
	ignores    []string
	metrics    *metrics.Metrics
	newWatcher WatcherFactory
}

func defaultOptions() options {
	return options{
		debounce: DefaultDebounce,
		patterns: watcher.DefaultPatterns,
		ignores:  watcher.DefaultIgnores,
		newWatcher: func(root string, opts ...watcher.Option) (watcher.Watcher, error) {
			return watcher.New(root, opts...)
		},
	}
}

// Option configures a Detector or an installation.
type Option func(*options)

// WithDebounce sets the collection window. Non-positive values keep the
// default.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithPatterns sets the include globs of the watcher. Empty keeps the default.
func WithPatterns(patterns []string) Option {
	return func(o *options) {
		if len(patterns) > 0 {
			o.patterns = patterns
		}
	}
}

// WithIgnores sets the exclude globs of the watcher. Nil keeps the default;
// an empty non-nil slice disables exclusion.
func WithIgnores(ignores []string) Option {
	return func(o *options) {
		if ignores != nil {
			o.ignores = ignores
		}
	}
}

// WithMetrics records event and decision counts in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithWatcherFactory replaces the fsnotify watcher.
func WithWatcherFactory(f WatcherFactory) Option {
	return func(o *options) {
		if f != nil {
			o.newWatcher = f
		}
	}
}
