// Package uitest provides a scripted ui.Window for tests.
package uitest

import (
	"context"
	"sync"

	"github.com/dshills/lsp-typescript/internal/lsp"
	"github.com/dshills/lsp-typescript/internal/ui"
)

// QuickPanel records one ShowQuickPanel call.
type QuickPanel struct {
	Items       []ui.QuickPanelItem
	Placeholder string
}

// Opened records one OpenLocation call.
type Opened struct {
	Location lsp.Location
	Focus    bool
}

// Window records every call and answers quick panels with Choice.
type Window struct {
	mu sync.Mutex

	// Choice is the index handed to onSelect; ui.Dismissed simulates the
	// user closing the panel.
	Choice int

	// OpenErr is returned from OpenLocation.
	OpenErr error

	Panels   []QuickPanel
	Opened   []Opened
	Messages []string
	Statuses []string
	Dialogs  []string
}

var _ ui.Window = (*Window)(nil)

// ShowQuickPanel implements ui.Window.
func (w *Window) ShowQuickPanel(items []ui.QuickPanelItem, placeholder string, onSelect func(index int)) {
	w.mu.Lock()
	w.Panels = append(w.Panels, QuickPanel{Items: items, Placeholder: placeholder})
	choice := w.Choice
	w.mu.Unlock()

	if onSelect != nil {
		onSelect(choice)
	}
}

// OpenLocation implements ui.Window.
func (w *Window) OpenLocation(ctx context.Context, location lsp.Location, focus bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Opened = append(w.Opened, Opened{Location: location, Focus: focus})
	return w.OpenErr
}

// StatusMessage implements ui.Window.
func (w *Window) StatusMessage(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Messages = append(w.Messages, text)
}

// SetStatus implements ui.Window.
func (w *Window) SetStatus(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Statuses = append(w.Statuses, text)
}

// MessageDialog implements ui.Window.
func (w *Window) MessageDialog(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Dialogs = append(w.Dialogs, text)
}

// PanelCount returns the number of quick panels shown.
func (w *Window) PanelCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Panels)
}

// OpenedCount returns the number of locations opened.
func (w *Window) OpenedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Opened)
}
