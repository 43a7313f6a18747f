// Package rename infers file moves from create/delete events and offers to
// let the TypeScript server fix the imports that pointed at the old path.
//
// The pipeline is:
//
//	watcher events -> Detector (debounce, Classify) -> Responder (policy, prompt) -> Applier
//
// The Detector owns the pending buffer on its own goroutine. When a window
// closes it classifies the buffer and always clears it. A decision is then
// handed to the Responder, which does the policy check, the prompt and the
// apply call on the UI queue.
//
// Pairing is deliberately naive: any single create plus single delete seen
// within the window counts as a rename, however unrelated the two paths are.
// Asking the server to update imports for a pair that was not really a move
// is harmless, so no path similarity or content checks are made.
package rename

import (
	"github.com/dshills/lsp-typescript/internal/watcher"
)

// Kind is the kind of a file event.
type Kind = watcher.Kind

// Event kinds.
const (
	Create = watcher.KindCreate
	Delete = watcher.KindDelete
)

// FileEvent is one observed change to a path.
type FileEvent struct {
	Kind Kind
	Path string
}

// Decision is an inferred rename.
type Decision struct {
	OldPath string
	NewPath string
}

// Classify returns a decision when events are exactly one delete and one
// create, in either order, of two different paths. A delete and re-create
// of the same path is a save, not a rename.
func Classify(events []FileEvent) (Decision, bool) {
	if len(events) != 2 {
		return Decision{}, false
	}

	var d Decision
	a, b := events[0], events[1]
	switch {
	case a.Kind == Delete && b.Kind == Create:
		d = Decision{OldPath: a.Path, NewPath: b.Path}
	case a.Kind == Create && b.Kind == Delete:
		d = Decision{OldPath: b.Path, NewPath: a.Path}
	default:
		return Decision{}, false
	}
	if d.OldPath == d.NewPath {
		return Decision{}, false
	}
	return d, true
}

// FromWatcher converts watcher events.
func FromWatcher(events []watcher.Event) []FileEvent {
	out := make([]FileEvent, 0, len(events))
	for _, e := range events {
		out = append(out, FileEvent{Kind: e.Kind, Path: e.Path})
	}
	return out
}
